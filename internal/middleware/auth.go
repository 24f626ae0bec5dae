package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"conversation-service/internal/apperr"
	"conversation-service/internal/identity"
	"conversation-service/internal/models"
)

const (
	ContextUserID = "userID"
	ContextRole   = "role"
)

// AuthMiddleware resolves the bearer credential into the caller identity.
func AuthMiddleware(resolver identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		token, ok := identity.BearerToken(header)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		caller, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			message, _ := apperr.Public(err)
			c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{"error": message})
			return
		}

		c.Set(ContextUserID, caller.UserID)
		c.Set(ContextRole, caller.Role)
		c.Next()
	}
}

// Caller returns the identity stored by AuthMiddleware.
func Caller(c *gin.Context) models.Identity {
	role, _ := c.Get(ContextRole)
	r, _ := role.(models.Role)
	return models.Identity{UserID: c.GetString(ContextUserID), Role: r}
}

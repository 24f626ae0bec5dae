package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"conversation-service/internal/middleware"
	"conversation-service/internal/observability"
)

func requestIDFromContext(c *gin.Context) string {
	if id := observability.RequestIDFromContext(c.Request.Context()); id != "" {
		return id
	}
	if id := observability.RequestIDFromRequest(c.Request); id != "" {
		return id
	}
	return uuid.NewString()
}

func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetString(middleware.ContextUserID); userID != "" {
		return &userID
	}
	if header := c.GetHeader("X-User-ID"); header != "" {
		return &header
	}
	return nil
}

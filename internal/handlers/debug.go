package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"conversation-service/internal/models"
	"conversation-service/internal/telemetry"
)

// PresenceDirectory lists connected users with the role bound at their first connection.
type PresenceDirectory interface {
	OnlineCounter
	Role(userID string) (models.Role, bool)
}

type onlineUser struct {
	UserID string      `json:"userId"`
	Role   models.Role `json:"role"`
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, presence PresenceDirectory, enabled bool) {
	if !enabled {
		return
	}

	// Emits a sample audit record for the conversation named in the query.
	router.POST("/debug/audit", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		conversationID := c.Query("conversationId")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", telemetry.AuditEvent{
			Action:         telemetry.AuditSample,
			Text:           "sample audit for conversation " + conversationID,
			RequestID:      requestIDFromContext(c),
			UserID:         userIDFromContext(c),
			ConversationID: conversationID,
		})
		c.JSON(http.StatusAccepted, gin.H{"action": telemetry.AuditSample, "conversationId": conversationID})
	})

	router.GET("/debug/online", func(c *gin.Context) {
		ids := presence.OnlineUsers()
		users := make([]onlineUser, 0, len(ids))
		for _, id := range ids {
			role, ok := presence.Role(id)
			if !ok {
				continue
			}
			users = append(users, onlineUser{UserID: id, Role: role})
		}
		c.JSON(http.StatusOK, gin.H{"online": users})
	})
}

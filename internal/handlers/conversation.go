package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"conversation-service/internal/apperr"
	"conversation-service/internal/messaging"
	"conversation-service/internal/middleware"
	"conversation-service/internal/telemetry"
)

// ConversationHandler serves the synchronous conversation endpoints.
// None of them broadcast except message deletion.
type ConversationHandler struct {
	service *messaging.Service
	audit   *telemetry.AuditEmitter
	log     *slog.Logger
}

// NewConversationHandler builds a ConversationHandler. audit may be nil.
func NewConversationHandler(service *messaging.Service, audit *telemetry.AuditEmitter, log *slog.Logger) *ConversationHandler {
	useJSONFieldNames()
	return &ConversationHandler{service: service, audit: audit, log: log}
}

// Register mounts the routes on an authenticated group.
func (h *ConversationHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/conversations", h.ListConversations)
	rg.POST("/conversations", h.CreateConversation)
	rg.GET("/conversations/:conversation_id", h.GetConversation)
	rg.PATCH("/conversations/:conversation_id", h.UpdateConversation)
	rg.DELETE("/conversations/:conversation_id", h.DeleteConversation)
	rg.GET("/conversations/:conversation_id/messages", h.ListMessages)
	rg.POST("/conversations/:conversation_id/messages", h.PostMessage)
	rg.PUT("/conversations/:conversation_id/read", h.MarkRead)
	rg.DELETE("/conversations/:conversation_id/messages/:message_id", h.DeleteMessage)
}

// ListConversations returns the caller's active conversations.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	list, err := h.service.ListConversations(c.Request.Context(), middleware.Caller(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// CreateConversation returns the conversation with participantId, creating it when absent.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req struct {
		ParticipantID string `json:"participantId" binding:"required"`
	}
	if !h.bindJSON(c, &req) {
		return
	}

	conv, created, err := h.service.CreateConversation(c.Request.Context(), middleware.Caller(c).UserID, req.ParticipantID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, conv)
}

// GetConversation returns one conversation the caller takes part in.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conv, err := h.service.GetConversation(c.Request.Context(), middleware.Caller(c).UserID, c.Param("conversation_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// UpdateConversation archives or restores a conversation.
func (h *ConversationHandler) UpdateConversation(c *gin.Context) {
	var req messaging.ConversationUpdate
	if !h.bindJSON(c, &req) {
		return
	}

	conv, err := h.service.UpdateConversation(c.Request.Context(), middleware.Caller(c).UserID, c.Param("conversation_id"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// DeleteConversation soft-deletes a conversation.
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if err := h.service.DeleteConversation(c.Request.Context(), middleware.Caller(c).UserID, conversationID); err != nil {
		h.respondError(c, err)
		return
	}
	h.audit.Emit(c.Request.Context(), "INFO", telemetry.AuditEvent{
		Action:         telemetry.AuditConversationDeleted,
		Text:           fmt.Sprintf("conversation %s deleted", conversationID),
		RequestID:      requestIDFromContext(c),
		UserID:         userIDFromContext(c),
		ConversationID: conversationID,
	})
	c.Status(http.StatusNoContent)
}

// ListMessages returns the conversation's messages oldest first.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	msgs, err := h.service.ListMessages(c.Request.Context(), middleware.Caller(c).UserID, c.Param("conversation_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores a message. Live subscribers learn about it on their next fetch.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if !h.bindJSON(c, &req) {
		return
	}

	msg, err := h.service.PostMessage(c.Request.Context(), messaging.SendRequest{
		SenderID:       middleware.Caller(c).UserID,
		ConversationID: c.Param("conversation_id"),
		Content:        req.Content,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead applies read receipts for the caller.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	res, err := h.service.MarkRead(c.Request.Context(), middleware.Caller(c).UserID, c.Param("conversation_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DeleteMessage soft-deletes a message for everyone. Sender only.
func (h *ConversationHandler) DeleteMessage(c *gin.Context) {
	messageID := c.Param("message_id")
	msg, err := h.service.DeleteMessage(c.Request.Context(), middleware.Caller(c).UserID, c.Param("conversation_id"), messageID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.audit.Emit(c.Request.Context(), "INFO", telemetry.AuditEvent{
		Action:         telemetry.AuditMessageDeleted,
		Text:           fmt.Sprintf("message %s deleted", messageID),
		RequestID:      requestIDFromContext(c),
		UserID:         userIDFromContext(c),
		ConversationID: msg.ConversationID,
		MessageID:      messageID,
	})
	c.JSON(http.StatusOK, msg)
}

func (h *ConversationHandler) respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	message, details := apperr.Public(err)
	body := gin.H{"error": message}
	if details != nil {
		body["details"] = details
	}
	c.JSON(status, body)
}

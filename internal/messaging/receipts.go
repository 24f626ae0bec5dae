package messaging

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"conversation-service/internal/apperr"
	"conversation-service/internal/models"
	"conversation-service/internal/observability"
)

// ReadResult describes one markRead application.
type ReadResult struct {
	ConversationID string    `json:"conversationId"`
	ReaderUserID   string    `json:"readerUserId"`
	ReadAt         time.Time `json:"readAt"`
	Updated        int64     `json:"updated"`
}

// MarkRead applies receipts for every unread message from other senders.
// Messages already read by the reader, or already at status read, are left untouched.
func (s *Service) MarkRead(ctx context.Context, readerID string, conversationID string) (ReadResult, error) {
	ctx, span := tracer.Start(ctx, "messaging.mark_read")
	defer span.End()

	if err := s.AuthorizeParticipant(ctx, conversationID, readerID); err != nil {
		return ReadResult{}, err
	}

	readAt := s.now()
	updated, err := s.messages.MarkConversationRead(ctx, conversationID, readerID, readAt)
	if err != nil {
		return ReadResult{}, apperr.Internal("could not mark messages as read", err)
	}
	span.SetAttributes(attribute.Int64("receipts.updated", updated))
	observability.AddReadReceipts(updated)

	if updated > 0 {
		s.publishDomainEvent(ctx, "messages_read", map[string]any{
			"conversation_id": conversationID,
			"reader_id":       readerID,
			"updated":         updated,
		})
	}
	return ReadResult{ConversationID: conversationID, ReaderUserID: readerID, ReadAt: readAt, Updated: updated}, nil
}

// MarkReadAndBroadcast is MarkRead followed by messagesRead to the room.
// The broadcast happens even when nothing changed.
func (s *Service) MarkReadAndBroadcast(ctx context.Context, readerID string, conversationID string) (ReadResult, error) {
	res, err := s.MarkRead(ctx, readerID, conversationID)
	if err != nil {
		return ReadResult{}, err
	}
	s.notifier.BroadcastToConversation(conversationID, models.ServerEvent{
		Event: models.EventMessagesRead,
		Data: models.MessagesRead{
			ConversationID: conversationID,
			UserID:         readerID,
			ReaderUserID:   readerID,
			ReadAt:         res.ReadAt,
		},
	})
	return res, nil
}

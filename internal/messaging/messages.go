package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"conversation-service/internal/apperr"
	"conversation-service/internal/models"
	"conversation-service/internal/observability"
	"conversation-service/internal/repositories"
)

// SendRequest is the input shared by both message entry points.
type SendRequest struct {
	SenderID       string
	ConversationID string
	Content        string
}

// PostMessage persists a message from the synchronous path. Nothing is broadcast.
func (s *Service) PostMessage(ctx context.Context, req SendRequest) (models.Message, error) {
	msg, _, err := s.applyMessage(ctx, req, PathSync)
	return msg, err
}

// SendMessage persists a message from a live connection, then fans it out:
// newMessage to the room, conversationUpdate to every participant and
// messageNotification to every participant except the sender.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (models.Message, error) {
	msg, conv, err := s.applyMessage(ctx, req, PathRealtime)
	if err != nil {
		return models.Message{}, err
	}

	s.notifier.BroadcastToConversation(conv.ID, models.ServerEvent{Event: models.EventNewMessage, Data: msg})
	for _, participant := range conv.Participants {
		s.notifier.NotifyUser(participant, models.ServerEvent{Event: models.EventConversationUpdate, Data: conv})
		if participant == msg.SenderID {
			continue
		}
		s.notifier.NotifyUser(participant, models.ServerEvent{
			Event: models.EventMessageNotification,
			Data:  models.MessageNotification{ConversationID: conv.ID, Message: msg},
		})
	}
	return msg, nil
}

// applyMessage validates, persists the message and refreshes the conversation
// snapshot. Message persist and snapshot update are separate writes; when the
// second fails the message stays stored and the error is returned.
func (s *Service) applyMessage(ctx context.Context, req SendRequest, path string) (models.Message, models.Conversation, error) {
	ctx, span := tracer.Start(ctx, "messaging.apply_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", req.ConversationID),
		attribute.String("message.path", path),
	)

	if strings.TrimSpace(req.Content) == "" {
		return models.Message{}, models.Conversation{}, apperr.InvalidArgument("content is required")
	}
	if n := utf8.RuneCountInString(req.Content); s.maxContentLength > 0 && n > s.maxContentLength {
		return models.Message{}, models.Conversation{}, apperr.WithDetails(apperr.ErrInvalidArgument,
			fmt.Sprintf("content exceeds %d characters", s.maxContentLength),
			map[string]int{"length": n, "max": s.maxContentLength})
	}
	if _, err := s.participantConversation(ctx, req.ConversationID, req.SenderID, apperr.Unauthorized("not a participant of this conversation")); err != nil {
		return models.Message{}, models.Conversation{}, err
	}

	msg, err := s.messages.CreateMessage(ctx, req.ConversationID, req.SenderID, req.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist message")
		return models.Message{}, models.Conversation{}, apperr.Internal("could not send message", err)
	}
	observability.IncMessagePersisted(path)

	active := true
	conv, err := s.conversations.UpdateConversation(ctx, req.ConversationID, models.ConversationPatch{
		LastMessage: &models.LastMessage{Content: msg.Content, SenderID: msg.SenderID, CreatedAt: msg.CreatedAt},
		IsActive:    &active,
		UpdatedAt:   msg.CreatedAt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update snapshot")
		s.log.Error("conversation snapshot update failed", "conversation_id", req.ConversationID, "message_id", msg.ID, "error", err)
		return models.Message{}, models.Conversation{}, apperr.Internal("could not update conversation", err)
	}

	s.publishDomainEvent(ctx, "message_sent", map[string]any{
		"message_id":      msg.ID,
		"conversation_id": msg.ConversationID,
		"sender_id":       msg.SenderID,
		"path":            path,
	})
	return msg, conv, nil
}

// ListMessages returns the conversation's messages oldest first.
func (s *Service) ListMessages(ctx context.Context, userID string, conversationID string) ([]models.Message, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, apperr.Internal("failed to load messages", err)
	}
	return msgs, nil
}

// DeleteMessage soft-deletes a message on behalf of its sender and tells the room.
func (s *Service) DeleteMessage(ctx context.Context, userID string, conversationID string, messageID string) (models.Message, error) {
	conv, err := s.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	if err := validateID("messageId", messageID); err != nil {
		return models.Message{}, err
	}

	msg, err := s.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) || (err == nil && msg.ConversationID != conversationID) {
		return models.Message{}, apperr.NotFound("message not found")
	}
	if err != nil {
		return models.Message{}, apperr.Internal("failed to load message", err)
	}
	if msg.SenderID != userID {
		return models.Message{}, apperr.Unauthorized("only the sender can delete this message")
	}

	deleted, err := s.messages.SoftDeleteMessage(ctx, messageID, userID)
	if err != nil {
		return models.Message{}, apperr.Internal("could not delete message", err)
	}

	if last := conv.LastMessage; last != nil && last.SenderID == msg.SenderID && last.CreatedAt.Equal(msg.CreatedAt) {
		_, err := s.conversations.UpdateConversation(ctx, conv.ID, models.ConversationPatch{
			LastMessage: &models.LastMessage{Content: models.DeletedPlaceholder, SenderID: last.SenderID, CreatedAt: last.CreatedAt},
			UpdatedAt:   conv.UpdatedAt,
		})
		if err != nil {
			s.log.Warn("failed to refresh snapshot after delete", "conversation_id", conv.ID, "error", err)
		}
	}

	s.notifier.BroadcastToConversation(conv.ID, models.ServerEvent{
		Event: models.EventMessageDeleted,
		Data:  models.MessageDeleted{ConversationID: conv.ID, MessageID: deleted.ID},
	})
	s.publishDomainEvent(ctx, "message_deleted", map[string]any{
		"message_id":      deleted.ID,
		"conversation_id": conv.ID,
		"sender_id":       userID,
	})
	return deleted, nil
}

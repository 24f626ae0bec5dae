package messaging

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/lo"

	"conversation-service/internal/apperr"
	"conversation-service/internal/models"
	"conversation-service/internal/repositories"
)

// ConversationUpdate is the caller-editable part of a conversation.
type ConversationUpdate struct {
	IsActive *bool `json:"isActive"`
}

// CreateConversation returns the conversation between the caller and
// participantID, creating it only when none exists. The boolean reports
// whether a new conversation was created. An archived conversation is reactivated.
func (s *Service) CreateConversation(ctx context.Context, callerID string, participantID string) (models.Conversation, bool, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return models.Conversation{}, false, apperr.InvalidArgument("participantId is required")
	}
	if participantID == callerID {
		return models.Conversation{}, false, apperr.InvalidArgument("cannot start a conversation with yourself")
	}
	pair := []string{callerID, participantID}

	existing, err := s.conversations.FindConversation(ctx, pair)
	switch {
	case err == nil:
		return s.reuseConversation(ctx, existing)
	case !errors.Is(err, repositories.ErrConversationNotFound):
		return models.Conversation{}, false, apperr.Internal("failed to look up conversation", err)
	}

	conv, inserted, err := s.conversations.CreateConversation(ctx, pair)
	if err != nil {
		return models.Conversation{}, false, apperr.Internal("could not create conversation", err)
	}
	if !inserted {
		// A concurrent create for the same pair won.
		return s.reuseConversation(ctx, conv)
	}
	s.log.Info("conversation created", "conversation_id", conv.ID, "user_id", callerID)
	return conv, true, nil
}

// reuseConversation returns an existing conversation, reactivating it when archived.
func (s *Service) reuseConversation(ctx context.Context, existing models.Conversation) (models.Conversation, bool, error) {
	if existing.IsActive {
		return existing, false, nil
	}
	active := true
	conv, err := s.conversations.UpdateConversation(ctx, existing.ID, models.ConversationPatch{IsActive: &active, UpdatedAt: s.now()})
	if err != nil {
		return models.Conversation{}, false, apperr.Internal("failed to reactivate conversation", err)
	}
	return conv, false, nil
}

// ListConversations returns the caller's active conversations with unread counts.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	convs, err := s.conversations.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("failed to load conversations", err)
	}
	active := lo.Filter(convs, func(c models.Conversation, _ int) bool { return c.IsActive })

	unread, err := s.messages.CountUnread(ctx, userID, lo.Map(active, func(c models.Conversation, _ int) string { return c.ID }))
	if err != nil {
		return nil, apperr.Internal("failed to count unread messages", err)
	}
	return lo.Map(active, func(c models.Conversation, _ int) models.ConversationSummary {
		return models.ConversationSummary{Conversation: c, UnreadCount: unread[c.ID]}
	}), nil
}

// GetConversation fetches one conversation. Non-participants get NotFound.
func (s *Service) GetConversation(ctx context.Context, userID string, conversationID string) (models.Conversation, error) {
	return s.participantConversation(ctx, conversationID, userID, apperr.NotFound("conversation not found"))
}

// UpdateConversation applies a participant's update, e.g. archiving.
func (s *Service) UpdateConversation(ctx context.Context, userID string, conversationID string, update ConversationUpdate) (models.Conversation, error) {
	if update.IsActive == nil {
		return models.Conversation{}, apperr.InvalidArgument("nothing to update")
	}
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return models.Conversation{}, err
	}
	conv, err := s.conversations.UpdateConversation(ctx, conversationID, models.ConversationPatch{IsActive: update.IsActive, UpdatedAt: s.now()})
	if err != nil {
		return models.Conversation{}, apperr.Internal("could not update conversation", err)
	}
	return conv, nil
}

// DeleteConversation soft-deletes the conversation by marking it inactive.
func (s *Service) DeleteConversation(ctx context.Context, userID string, conversationID string) error {
	inactive := false
	_, err := s.UpdateConversation(ctx, userID, conversationID, ConversationUpdate{IsActive: &inactive})
	return err
}

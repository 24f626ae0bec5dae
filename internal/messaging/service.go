// Package messaging owns conversation operations, message delivery and read receipts.
// Every write goes through this package so the synchronous and real-time entry
// points validate and persist identically.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"conversation-service/internal/apperr"
	"conversation-service/internal/models"
	"conversation-service/internal/repositories"
)

const (
	PathSync     = "sync"
	PathRealtime = "realtime"
)

var tracer = otel.Tracer("conversation-service/messaging")

// Notifier fans events out to live connections.
type Notifier interface {
	// BroadcastToConversation reaches every connection subscribed to the room.
	BroadcastToConversation(conversationID string, event models.ServerEvent)
	// NotifyUser reaches every open connection of the user.
	NotifyUser(userID string, event models.ServerEvent)
}

type noopNotifier struct{}

func (noopNotifier) BroadcastToConversation(string, models.ServerEvent) {}
func (noopNotifier) NotifyUser(string, models.ServerEvent)              {}

// Service implements conversation, message and receipt operations.
type Service struct {
	conversations    repositories.ConversationRepository
	messages         repositories.MessageRepository
	notifier         Notifier
	log              *slog.Logger
	now              func() time.Time
	maxContentLength int
}

type Option func(*Service)

// WithClock overrides the time source used for receipts and snapshots.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMaxContentLength caps message content, in characters.
func WithMaxContentLength(n int) Option {
	return func(s *Service) { s.maxContentLength = n }
}

// NewService builds a Service. A nil notifier disables fan-out.
func NewService(conversations repositories.ConversationRepository, messages repositories.MessageRepository, notifier Notifier, log *slog.Logger, opts ...Option) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	s := &Service{
		conversations:    conversations,
		messages:         messages,
		notifier:         notifier,
		log:              log,
		now:              func() time.Time { return time.Now().UTC() },
		maxContentLength: 5000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxContentLength reports the content cap in characters.
func (s *Service) MaxContentLength() int {
	return s.maxContentLength
}

// SetNotifier swaps the fan-out target. It must be called before the service is shared.
func (s *Service) SetNotifier(n Notifier) {
	if n == nil {
		n = noopNotifier{}
	}
	s.notifier = n
}

// AuthorizeParticipant fails with Unauthorized unless userID takes part in
// the conversation. A missing conversation is reported the same way.
func (s *Service) AuthorizeParticipant(ctx context.Context, conversationID string, userID string) error {
	if err := validateID("conversationId", conversationID); err != nil {
		return err
	}
	ok, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return apperr.Internal("failed to load conversation", err)
	}
	if !ok {
		return apperr.Unauthorized("not a participant of this conversation")
	}
	return nil
}

// participantConversation loads the conversation and checks membership. Both
// absence and non-membership produce denial, so existence is not leaked.
func (s *Service) participantConversation(ctx context.Context, conversationID string, userID string, denial *apperr.Error) (models.Conversation, error) {
	if err := validateID("conversationId", conversationID); err != nil {
		return models.Conversation{}, err
	}
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, denial
	}
	if err != nil {
		return models.Conversation{}, apperr.Internal("failed to load conversation", err)
	}
	if !conv.HasParticipant(userID) {
		return models.Conversation{}, denial
	}
	return conv, nil
}

func validateID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperr.InvalidArgument(field + " is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return apperr.InvalidArgument("malformed " + field)
	}
	return nil
}

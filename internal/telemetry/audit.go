package telemetry

import (
	"context"
	"log/slog"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *slog.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level          string `json:"level"`
	Action         string `json:"action"`
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

// Audit actions.
const (
	AuditConversationDeleted = "conversation_deleted"
	AuditMessageDeleted      = "message_deleted"
	AuditSample              = "audit_sample"
)

// AuditEvent is one destructive or operator-visible action on a conversation.
type AuditEvent struct {
	Action         string
	Text           string
	RequestID      string
	UserID         *string
	ConversationID string
	MessageID      string
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log *slog.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
	}
}

// Emit publishes ev. A nil emitter drops it.
func (e *AuditEmitter) Emit(ctx context.Context, level string, ev AuditEvent) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     ev.RequestID,
		UserID:        ev.UserID,
		Payload: AuditPayload{
			Level:          level,
			Action:         ev.Action,
			Text:           ev.Text,
			ConversationID: ev.ConversationID,
			MessageID:      ev.MessageID,
		},
	}

	headers := map[string]string{"x-request-id": ev.RequestID}
	if ev.ConversationID != "" {
		headers["x-conversation-id"] = ev.ConversationID
	}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil && e.log != nil {
		e.log.Warn("audit publish failed", "request_id", ev.RequestID, "action", ev.Action, "conversation_id", ev.ConversationID, "error", err)
	}
}

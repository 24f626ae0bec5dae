package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/observability"
	"conversation-service/internal/telemetry"
)

func TestNewPublisherWithoutURLIsNoop(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPublisher("", "chat.events", log)

	assert.Equal(t, "noop", PublisherMode(p))
	assert.Equal(t, "empty amqp url", PublisherNoopReason(p))
	require.NoError(t, p.Publish(context.Background(), "audit", telemetry.AuditEnvelope{EventType: "audit_log"}, nil))
	require.NoError(t, p.Close())
}

func TestToTable(t *testing.T) {
	assert.Equal(t, amqp.Table{"x-request-id": "r1"}, toTable(map[string]string{"x-request-id": "r1"}))
}

func TestDescribeEnvelopes(t *testing.T) {
	audit := telemetry.AuditEnvelope{
		EventType: "audit_log",
		RequestID: "r1",
		Payload:   telemetry.AuditPayload{Action: telemetry.AuditMessageDeleted, ConversationID: "c1"},
	}
	assert.Equal(t, []any{"event_type", "audit_log", "action", "message_deleted", "conversation_id", "c1", "request_id", "r1"}, describe(audit))

	ws := observability.EventEnvelope{EventType: "ws_events", EventName: "ws_connect"}
	assert.Equal(t, []any{"event_type", "ws_events", "event_name", "ws_connect"}, describe(ws))

	assert.Nil(t, describe("plain"))
}

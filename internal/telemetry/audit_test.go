package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	routingKey string
	event      any
	headers    map[string]string
}

func (c *capturePublisher) Publish(_ context.Context, routingKey string, event any, headers map[string]string) error {
	c.routingKey, c.event, c.headers = routingKey, event, headers
	return nil
}

func TestAuditEmitterEmit(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewAuditEmitter(pub, "audit.conversation-service", "conversation-service", "test", nil)
	user := "u1"

	emitter.Emit(context.Background(), "INFO", AuditEvent{
		Action:         AuditMessageDeleted,
		Text:           "message deleted",
		RequestID:      "req-7",
		UserID:         &user,
		ConversationID: "c1",
		MessageID:      "m1",
	})

	require.Equal(t, "audit.conversation-service", pub.routingKey)
	env, ok := pub.event.(AuditEnvelope)
	require.True(t, ok)
	assert.Equal(t, "audit_log", env.EventType)
	assert.Equal(t, "req-7", env.RequestID)
	assert.Equal(t, &user, env.UserID)
	assert.Equal(t, AuditPayload{
		Level:          "INFO",
		Action:         AuditMessageDeleted,
		Text:           "message deleted",
		ConversationID: "c1",
		MessageID:      "m1",
	}, env.Payload)
	assert.Equal(t, map[string]string{"x-request-id": "req-7", "x-conversation-id": "c1"}, pub.headers)
}

func TestAuditEmitterNilSafe(t *testing.T) {
	var emitter *AuditEmitter
	emitter.Emit(context.Background(), "INFO", AuditEvent{Action: AuditSample})
}

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "", "svc", "test")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

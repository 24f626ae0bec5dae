package messaging

import (
	"context"

	"conversation-service/internal/observability"
)

func (s *Service) publishDomainEvent(ctx context.Context, name string, payload map[string]any) {
	headers := observability.BuildHeaders(observability.RequestIDFromContext(ctx), observability.TraceIDFromContext(ctx))
	envelope := observability.EventEnvelope{
		EventType: "message_event",
		EventName: name,
		Payload:   payload,
	}
	if err := observability.PublishEvent(ctx, observability.RoutingKeyMessageEvents, envelope, headers); err != nil {
		s.log.Warn("failed to publish message event", "event", name, "error", err)
	}
}

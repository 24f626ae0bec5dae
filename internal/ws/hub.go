package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"conversation-service/internal/messaging"
	"conversation-service/internal/models"
	"conversation-service/internal/observability"
	"conversation-service/internal/presence"
	"conversation-service/internal/rooms"
)

// Hub routes server events to connections: room broadcasts go through the
// room manager, personal channel events through the presence registry.
type Hub struct {
	presence *presence.Registry
	rooms    *rooms.Manager
	log      *slog.Logger

	mu      sync.Mutex
	clients  map[string]*Client
	stopping bool
	drained  chan struct{}
}

// NewHub wires the registry and the room manager together.
func NewHub(registry *presence.Registry, roomManager *rooms.Manager, log *slog.Logger) *Hub {
	return &Hub{presence: registry, rooms: roomManager, log: log, clients: make(map[string]*Client)}
}

var _ messaging.Notifier = (*Hub)(nil)

// BroadcastToConversation sends event to every connection in the room.
func (h *Hub) BroadcastToConversation(conversationID string, event models.ServerEvent) {
	n := h.rooms.Broadcast(conversationID, event)
	h.log.Debug("room broadcast", "conversation_id", conversationID, "event", event.Event, "delivered", n)
}

// NotifyUser sends event to every connection the user holds.
func (h *Hub) NotifyUser(userID string, event models.ServerEvent) {
	h.presence.SendToUser(userID, event)
}

// attach binds a connection after a successful handshake.
func (h *Hub) attach(ctx context.Context, c *Client) {
	h.mu.Lock()
	h.clients[c.info.ConnID] = c
	closing := h.stopping
	h.mu.Unlock()
	if closing {
		c.terminate(websocket.CloseGoingAway, "server shutting down")
	}

	h.presence.Register(c.info.UserID, c.info.Role, c)
	observability.IncWSActive()
	observability.IncWSEvent("lifecycle", "ws_connect")
	h.publishWSEvent(ctx, c.info, "ws_connect", "")
	h.log.Info("connection bound", "conn_id", c.info.ConnID, "user_id", c.info.UserID)
}

// detach is the Closed transition: room cleanup, presence removal, then the
// outbound queue is closed so the write pump exits.
func (h *Hub) detach(ctx context.Context, c *Client, reason string) {
	left := h.rooms.LeaveAll(c)
	wentOffline := h.presence.Unregister(c.info.UserID, c)
	c.close()

	observability.DecWSActive()
	observability.IncWSEvent("lifecycle", "ws_disconnect")
	h.publishWSEvent(ctx, c.info, "ws_disconnect", reason)
	h.log.Info("connection closed",
		"conn_id", c.info.ConnID,
		"user_id", c.info.UserID,
		"rooms", len(left),
		"offline", wentOffline,
		"reason", reason,
	)

	h.mu.Lock()
	delete(h.clients, c.info.ConnID)
	if len(h.clients) == 0 && h.drained != nil {
		close(h.drained)
		h.drained = nil
	}
	h.mu.Unlock()
}

// Shutdown closes every live connection with 1001 and waits until each one
// has been detached or ctx ends.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.stopping {
		h.mu.Unlock()
		return nil
	}
	h.stopping = true
	done := make(chan struct{})
	clients := lo.Values(h.clients)
	if len(clients) == 0 {
		close(done)
	} else {
		h.drained = done
	}
	h.mu.Unlock()

	h.log.Info("closing websocket connections", "count", len(clients))
	for _, c := range clients {
		c.terminate(websocket.CloseGoingAway, "server shutting down")
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) publishWSError(ctx context.Context, info ConnInfo, err error) {
	observability.IncWSEvent("lifecycle", "ws_error")
	h.publishWSEvent(ctx, info, "ws_error", err.Error())
}

func (h *Hub) publishWSEvent(ctx context.Context, info ConnInfo, name string, reason string) {
	var duration int64
	if name != "ws_connect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "conversation",
			"event":       name,
			"conn_id":     info.ConnID,
			"duration_ms": duration,
			"reason":      reason,
		},
		"identity": info.identityPayload(),
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	err := observability.PublishEvent(ctx, observability.RoutingKeyWSEvents, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload:   payload,
	}, headers)
	if err != nil {
		h.log.Warn("failed to publish ws event", "event", name, "conn_id", info.ConnID, "error", err)
	}
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"conversation-service/internal/apperr"
	"conversation-service/internal/models"
	"conversation-service/internal/observability"
)

const writeWait = 10 * time.Second

// Client is the server side of one websocket connection. It satisfies the
// connection handle contracts of the presence registry and the room manager.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	info         ConnInfo
	send         chan []byte
	pingInterval time.Duration
	log          *slog.Logger

	mu     sync.Mutex
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, info ConnInfo, opts Options, log *slog.Logger) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		info:         info,
		send:         make(chan []byte, opts.SendBuffer),
		pingInterval: opts.PingInterval,
		log:          log.With("conn_id", info.ConnID, "user_id", info.UserID),
	}
}

func (c *Client) ID() string     { return c.info.ConnID }
func (c *Client) UserID() string { return c.info.UserID }

// Send queues event for the write pump without blocking. It returns false when
// the connection is closed or its buffer is full; the event is then dropped.
func (c *Client) Send(event models.ServerEvent) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		c.log.Error("failed to encode event", "event", event.Event, "error", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		observability.IncWSEvent("out", event.Event)
		return true
	default:
		observability.IncWSDropped(event.Event)
		c.log.Warn("send buffer full, event dropped", "event", event.Event)
		return false
	}
}

func (c *Client) sendError(err error) {
	message, details := apperr.Public(err)
	c.Send(models.ServerEvent{Event: models.EventError, Data: models.ErrorPayload{Message: message, Details: details}})
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// terminate sends a close frame and drops the socket, which ends the read pump.
func (c *Client) terminate(code int, text string) {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	_ = c.conn.Close()
}

// serve runs the pumps until the connection ends. Events are dispatched from
// the read loop, so a connection's events are handled in receipt order.
func (c *Client) serve(ctx context.Context, maxMessageBytes int64, dispatch func(context.Context, *Client, []byte)) {
	go c.writePump()

	reason := c.readPump(ctx, maxMessageBytes, dispatch)
	c.hub.detach(ctx, c, reason)
}

func (c *Client) readPump(ctx context.Context, maxMessageBytes int64, dispatch func(context.Context, *Client, []byte)) string {
	pongWait := 2 * c.pingInterval
	c.conn.SetReadLimit(maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read failed", "error", err)
				c.hub.publishWSError(ctx, c.info, err)
			}
			return closeReason(err)
		}
		dispatch(ctx, c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func closeReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Text
	}
	return err.Error()
}

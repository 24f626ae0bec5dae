// Package client is a Go client for the conversation service real-time
// endpoint. It reconnects with exponential backoff and rejoins the rooms the
// caller joined.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"conversation-service/internal/models"
)

var (
	// ErrNotConnected is returned by emit helpers while no connection is up.
	ErrNotConnected = errors.New("client: not connected")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("client: closed")
	// ErrRejected means the server refused the credential; the client stops retrying.
	ErrRejected = errors.New("client: credential rejected")
)

const writeWait = 10 * time.Second

// Config configures a Client.
type Config struct {
	URL            string
	Token          string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Dialer         *websocket.Dialer
	Logger         *slog.Logger
}

// Handler receives the raw data of one server event.
type Handler func(data json.RawMessage)

// Client keeps one live connection at a time. Each new connection is a fresh
// session on the server, so room subscriptions are replayed after every dial.
type Client struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     *websocket.Conn
	rooms    map[string]struct{}
	handlers map[string][]Handler
	closed   bool
	done     chan struct{}

	onConnect    func()
	onDisconnect func(error)
}

// New creates a client. Run must be called to connect.
func New(cfg Config) *Client {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		log:      log,
		rooms:    make(map[string]struct{}),
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}
}

// On registers fn for a server event name. Handlers run on the read goroutine.
func (c *Client) On(event string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

// OnConnect is called after each successful dial, once rooms were rejoined.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = fn
}

// OnDisconnect is called whenever a live connection ends.
func (c *Client) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// Run connects and keeps reconnecting until ctx is done, Close is called or
// the server rejects the credential.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		if c.isClosed() {
			return nil
		}
		conn, err := c.dial(ctx)
		if errors.Is(err, ErrRejected) {
			return err
		}
		if err == nil {
			b.Reset()
			err = c.session(ctx, conn)
			if c.isClosed() {
				return nil
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := b.NextBackOff()
		c.log.Debug("reconnecting", "in", wait, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrRejected
		}
		return nil, err
	}
	return conn, nil
}

// session owns one connection until it fails.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	onConnect := c.onConnect
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for _, id := range rooms {
		if err := c.write(conn, models.EventJoinConversation, models.JoinConversationPayload{ConversationID: id}); err != nil {
			c.log.Warn("rejoin failed", "conversation_id", id, "error", err)
		}
	}
	if onConnect != nil {
		onConnect()
	}

	err := c.readLoop(conn)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	onDisconnect := c.onDisconnect
	c.mu.Unlock()
	_ = conn.Close()
	if onDisconnect != nil {
		onDisconnect(err)
	}
	return err
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		var frame models.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		c.mu.Lock()
		handlers := append([]Handler(nil), c.handlers[frame.Event]...)
		c.mu.Unlock()
		for _, fn := range handlers {
			fn(frame.Data)
		}
	}
}

func (c *Client) write(conn *websocket.Conn, event string, data any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(models.ServerEvent{Event: event, Data: data})
}

func (c *Client) emit(event string, data any) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, event, data)
}

// Join subscribes to a conversation room, now and after every reconnect.
// While disconnected the room is only remembered.
func (c *Client) Join(conversationID string) error {
	c.mu.Lock()
	c.rooms[conversationID] = struct{}{}
	c.mu.Unlock()

	err := c.emit(models.EventJoinConversation, models.JoinConversationPayload{ConversationID: conversationID})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Leave unsubscribes from a room and forgets it.
func (c *Client) Leave(conversationID string) error {
	c.mu.Lock()
	delete(c.rooms, conversationID)
	c.mu.Unlock()

	err := c.emit(models.EventLeaveConversation, models.LeaveConversationPayload{ConversationID: conversationID})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Rooms returns the conversations that will be rejoined on reconnect.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

// Send emits sendMessage. Messages are not queued while disconnected.
func (c *Client) Send(conversationID, content string) error {
	return c.emit(models.EventSendMessage, models.SendMessagePayload{ConversationID: conversationID, Content: content})
}

// Typing emits a typing indicator for a joined room.
func (c *Client) Typing(conversationID, userName string, isTyping bool) error {
	return c.emit(models.EventTyping, models.TypingPayload{ConversationID: conversationID, UserName: userName, IsTyping: isTyping})
}

// MarkRead emits markAsRead.
func (c *Client) MarkRead(conversationID string) error {
	return c.emit(models.EventMarkAsRead, models.MarkAsReadPayload{ConversationID: conversationID})
}

// Close ends the current connection. A closed client never reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	close(c.done)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

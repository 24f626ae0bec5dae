package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/identity"
	"conversation-service/internal/messaging"
	"conversation-service/internal/models"
	"conversation-service/internal/presence"
	"conversation-service/internal/repositories"
	"conversation-service/internal/rooms"
)

type testEnv struct {
	server   *httptest.Server
	hub      *Hub
	service  *messaging.Service
	registry *presence.Registry
	rooms    *rooms.Manager
	resolver *identity.JWTResolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := repositories.NewMemoryStore()
	service := messaging.NewService(store, store, nil, log)
	registry := presence.NewRegistry(log)
	manager := rooms.NewManager(service, log)
	hub := NewHub(registry, manager, log)
	service.SetNotifier(hub)

	resolver := identity.NewJWTResolver("test-secret", "")
	handler := NewHandler(hub, service, resolver, Options{SendBuffer: 32, PingInterval: 5 * time.Second}, log)

	r := gin.New()
	r.GET("/ws", handler.Handle)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &testEnv{server: server, hub: hub, service: service, registry: registry, rooms: manager, resolver: resolver}
}

func (e *testEnv) url(query string) string {
	u := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.resolver.Issue(models.Identity{UserID: userID, Role: models.RoleClient}, time.Hour)
	require.NoError(t, err)
	return token
}

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

// connect dials as userID and consumes the initial onlineUsers snapshot.
func (e *testEnv) connect(t *testing.T, userID string) (*testConn, []string) {
	t.Helper()
	header := http.Header{"Authorization": []string{"Bearer " + e.token(t, userID)}}
	conn, _, err := websocket.DefaultDialer.Dial(e.url(""), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	tc := &testConn{t: t, conn: conn}
	var online []string
	require.NoError(t, json.Unmarshal(tc.expect(models.EventOnlineUsers), &online))
	return tc, online
}

func (c *testConn) emit(event string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// expect reads frames until one named event arrives and returns its data.
func (c *testConn) expect(event string) json.RawMessage {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var frame models.Frame
		require.NoError(c.t, c.conn.ReadJSON(&frame), "waiting for %s", event)
		if frame.Event == event {
			return frame.Data
		}
	}
}

// expectNone fails if event arrives within the window. The connection cannot
// be read from afterwards.
func (c *testConn) expectNone(event string, window time.Duration) {
	c.t.Helper()
	deadline := time.Now().Add(window)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var frame models.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}
		require.NotEqual(c.t, event, frame.Event, "unexpected %s", event)
	}
}

// expectClosed reads until the server closes the connection with code.
func (c *testConn) expectClosed(code int) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			require.True(c.t, websocket.IsCloseError(err, code), "got %v", err)
			return
		}
	}
}

func (c *testConn) expectError() models.ErrorPayload {
	c.t.Helper()
	var payload models.ErrorPayload
	require.NoError(c.t, json.Unmarshal(c.expect(models.EventError), &payload))
	return payload
}

func (e *testEnv) conversation(t *testing.T, a, b string) models.Conversation {
	t.Helper()
	conv, _, err := e.service.CreateConversation(context.Background(), a, b)
	require.NoError(t, err)
	return conv
}

func (e *testEnv) waitRoomSize(t *testing.T, conversationID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.rooms.Size(conversationID) == n }, 3*time.Second, 10*time.Millisecond)
}

func TestHandshakeRejectsMissingCredential(t *testing.T) {
	env := newTestEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(env.url(""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsMismatchedClaim(t *testing.T) {
	env := newTestEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(env.url("token="+env.token(t, "alice")+"&userId=bob"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, env.registry.IsOnline("bob"))
	assert.False(t, env.registry.IsOnline("alice"))
}

func TestHandshakeAcceptsTokenQuery(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.url("token="+env.token(t, "alice")+"&userId=alice&role=client"), nil)
	require.NoError(t, err)
	defer conn.Close()

	tc := &testConn{t: t, conn: conn}
	var online []string
	require.NoError(t, json.Unmarshal(tc.expect(models.EventOnlineUsers), &online))
	assert.Equal(t, []string{"alice"}, online)
}

func TestPresenceOnlineAndOffline(t *testing.T) {
	env := newTestEnv(t)

	alice, online := env.connect(t, "alice")
	assert.Equal(t, []string{"alice"}, online)

	bob, online := env.connect(t, "bob")
	assert.ElementsMatch(t, []string{"alice", "bob"}, online)
	assert.True(t, env.registry.IsOnline("bob"))

	var change models.UserStatusChange
	require.NoError(t, json.Unmarshal(alice.expect(models.EventUserStatusChange), &change))
	assert.Equal(t, models.UserStatusChange{UserID: "bob", Status: models.StatusOnline}, change)

	require.NoError(t, bob.conn.Close())
	require.NoError(t, json.Unmarshal(alice.expect(models.EventUserStatusChange), &change))
	assert.Equal(t, models.UserStatusChange{UserID: "bob", Status: models.StatusOffline}, change)
	assert.False(t, env.registry.IsOnline("bob"))
}

func TestSecondTabDoesNotRebroadcastOnline(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.connect(t, "alice")
	_, _ = env.connect(t, "bob")
	alice.expect(models.EventUserStatusChange)

	second, _ := env.connect(t, "bob")
	require.NoError(t, second.conn.Close())
	alice.expectNone(models.EventUserStatusChange, 300*time.Millisecond)
	assert.True(t, env.registry.IsOnline("bob"))
	assert.Equal(t, 2, env.registry.Count())
}

func TestSendMessageReachesRoomAndPersonalChannels(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")
	alice, _ := env.connect(t, "alice")
	bob, _ := env.connect(t, "bob")

	alice.emit(models.EventJoinConversation, models.JoinConversationPayload{ConversationID: conv.ID})
	env.waitRoomSize(t, conv.ID, 1)
	bob.emit(models.EventJoinConversation, models.JoinConversationPayload{ConversationID: conv.ID})
	env.waitRoomSize(t, conv.ID, 2)

	var joined models.RoomMembership
	require.NoError(t, json.Unmarshal(alice.expect(models.EventUserJoinedConversation), &joined))
	assert.Equal(t, models.RoomMembership{UserID: "bob", ConversationID: conv.ID}, joined)

	alice.emit(models.EventSendMessage, models.SendMessagePayload{ConversationID: conv.ID, SenderID: "alice", Content: "hello"})

	var msg models.Message
	require.NoError(t, json.Unmarshal(bob.expect(models.EventNewMessage), &msg))
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, models.StatusSent, msg.Status)

	for _, c := range []*testConn{alice, bob} {
		var update models.Conversation
		require.NoError(t, json.Unmarshal(c.expect(models.EventConversationUpdate), &update))
		require.NotNil(t, update.LastMessage)
		assert.Equal(t, "hello", update.LastMessage.Content)
	}

	var note models.MessageNotification
	require.NoError(t, json.Unmarshal(bob.expect(models.EventMessageNotification), &note))
	assert.Equal(t, conv.ID, note.ConversationID)
	assert.Equal(t, msg.ID, note.Message.ID)

	stored, err := env.service.ListMessages(context.Background(), "bob", conv.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, msg.ID, stored[0].ID)
}

func TestSendMessageAcceptsLongestEscapedContent(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")
	alice, _ := env.connect(t, "alice")

	alice.emit(models.EventJoinConversation, models.JoinConversationPayload{ConversationID: conv.ID})
	env.waitRoomSize(t, conv.ID, 1)

	content := strings.Repeat("<", env.service.MaxContentLength())
	alice.emit(models.EventSendMessage, models.SendMessagePayload{ConversationID: conv.ID, SenderID: "alice", Content: content})

	var msg models.Message
	require.NoError(t, json.Unmarshal(alice.expect(models.EventNewMessage), &msg))
	assert.Equal(t, content, msg.Content)
	assert.True(t, env.registry.IsOnline("alice"))

	alice.emit(models.EventSendMessage, models.SendMessagePayload{ConversationID: conv.ID, SenderID: "alice", Content: content + "<"})
	assert.Equal(t, "content exceeds 5000 characters", alice.expectError().Message)
	assert.True(t, env.registry.IsOnline("alice"))
}

func TestFrameLimitCoversEscapedContent(t *testing.T) {
	assert.Equal(t, int64(12*5000+1024), frameLimit(16<<10, 5000))
	assert.Equal(t, int64(1<<20), frameLimit(1<<20, 5000))
}

func TestSendMessageRejectsForeignSenderID(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")
	alice, _ := env.connect(t, "alice")

	alice.emit(models.EventSendMessage, models.SendMessagePayload{ConversationID: conv.ID, SenderID: "bob", Content: "spoof"})
	payload := alice.expectError()
	assert.Contains(t, payload.Message, "senderId")

	msgs, err := env.service.ListMessages(context.Background(), "alice", conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestJoinByOutsiderIsRejected(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")
	alice, _ := env.connect(t, "alice")
	mallory, _ := env.connect(t, "mallory")

	mallory.emit(models.EventJoinConversation, models.JoinConversationPayload{ConversationID: conv.ID})
	payload := mallory.expectError()
	assert.Equal(t, "not a participant of this conversation", payload.Message)

	alice.emit(models.EventJoinConversation, models.JoinConversationPayload{ConversationID: conv.ID})
	env.waitRoomSize(t, conv.ID, 1)
	alice.emit(models.EventSendMessage, models.SendMessagePayload{ConversationID: conv.ID, Content: "private"})
	alice.expect(models.EventNewMessage)

	mallory.expectNone(models.EventNewMessage, 200*time.Millisecond)
}

func TestConnectionSurvivesBadFrames(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.connect(t, "alice")

	require.NoError(t, alice.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "malformed frame", alice.expectError().Message)

	alice.emit("shout", map[string]string{"text": "hi"})
	assert.Equal(t, "unknown event", alice.expectError().Message)

	alice.emit(models.EventSendMessage, map[string]string{"content": "hi"})
	payload := alice.expectError()
	assert.Equal(t, "invalid payload", payload.Message)
	assert.Equal(t, map[string]any{"conversationId": "required"}, payload.Details)

	assert.True(t, env.registry.IsOnline("alice"))
}

func TestTypingRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")
	alice, _ := env.connect(t, "alice")
	bob, _ := env.connect(t, "bob")

	alice.emit(models.EventTyping, models.TypingPayload{ConversationID: conv.ID, UserName: "Alice", IsTyping: true})
	alice.expectError()

	alice.emit(models.EventJoinConversation, models.JoinConversationPayload{ConversationID: conv.ID})
	bob.emit(models.EventJoinConversation, models.JoinConversationPayload{ConversationID: conv.ID})
	env.waitRoomSize(t, conv.ID, 2)

	alice.emit(models.EventTyping, models.TypingPayload{ConversationID: conv.ID, UserName: "Alice", IsTyping: true})
	var typing models.UserTyping
	require.NoError(t, json.Unmarshal(bob.expect(models.EventUserTyping), &typing))
	assert.Equal(t, models.UserTyping{UserID: "alice", UserName: "Alice", IsTyping: true, ConversationID: conv.ID}, typing)
}

func TestMarkAsReadBroadcastsToRoom(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")
	_, err := env.service.PostMessage(context.Background(), messaging.SendRequest{SenderID: "bob", ConversationID: conv.ID, Content: "ping"})
	require.NoError(t, err)

	alice, _ := env.connect(t, "alice")
	bob, _ := env.connect(t, "bob")
	alice.emit(models.EventJoinConversation, models.JoinConversationPayload{ConversationID: conv.ID})
	bob.emit(models.EventJoinConversation, models.JoinConversationPayload{ConversationID: conv.ID})
	env.waitRoomSize(t, conv.ID, 2)

	alice.emit(models.EventMarkAsRead, models.MarkAsReadPayload{ConversationID: conv.ID})
	var read models.MessagesRead
	require.NoError(t, json.Unmarshal(bob.expect(models.EventMessagesRead), &read))
	assert.Equal(t, conv.ID, read.ConversationID)
	assert.Equal(t, "alice", read.ReaderUserID)

	msgs, err := env.service.ListMessages(context.Background(), "bob", conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusRead, msgs[0].Status)
	require.Len(t, msgs[0].ReadBy, 1)
}

func TestDisconnectLeavesEveryRoom(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")
	alice, _ := env.connect(t, "alice")
	bob, _ := env.connect(t, "bob")

	alice.emit(models.EventJoinConversation, models.JoinConversationPayload{ConversationID: conv.ID})
	env.waitRoomSize(t, conv.ID, 1)
	bob.emit(models.EventJoinConversation, models.JoinConversationPayload{ConversationID: conv.ID})
	env.waitRoomSize(t, conv.ID, 2)

	require.NoError(t, bob.conn.Close())

	var left models.RoomMembership
	require.NoError(t, json.Unmarshal(alice.expect(models.EventUserLeftConversation), &left))
	assert.Equal(t, models.RoomMembership{UserID: "bob", ConversationID: conv.ID}, left)
	env.waitRoomSize(t, conv.ID, 1)
}

func TestShutdownClosesLiveConnections(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")
	alice, _ := env.connect(t, "alice")
	bob, _ := env.connect(t, "bob")
	alice.emit(models.EventJoinConversation, models.JoinConversationPayload{ConversationID: conv.ID})
	env.waitRoomSize(t, conv.ID, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, env.hub.Shutdown(ctx))

	alice.expectClosed(websocket.CloseGoingAway)
	bob.expectClosed(websocket.CloseGoingAway)
	assert.Zero(t, env.registry.Count())
	assert.Zero(t, env.rooms.Size(conv.ID))

	require.NoError(t, env.hub.Shutdown(ctx))
}

// Package rooms tracks which connections are subscribed to live updates of a conversation.
package rooms

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"conversation-service/internal/apperr"
	"conversation-service/internal/models"
)

// Conn is a connection handle that can receive server events.
type Conn interface {
	ID() string
	UserID() string
	Send(event models.ServerEvent) bool
}

// Authorizer confirms that a user takes part in a conversation. It returns
// apperr.ErrUnauthorized for non-participants.
type Authorizer interface {
	AuthorizeParticipant(ctx context.Context, conversationID string, userID string) error
}

// Manager maps conversation ids to subscribed connections.
type Manager struct {
	mu          sync.Mutex
	rooms       map[string]map[string]Conn
	memberships map[string]map[string]struct{}
	auth        Authorizer
	log         *slog.Logger
}

// NewManager creates a manager that authorizes joins through auth.
func NewManager(auth Authorizer, log *slog.Logger) *Manager {
	return &Manager{
		rooms:       make(map[string]map[string]Conn),
		memberships: make(map[string]map[string]struct{}),
		auth:        auth,
		log:         log,
	}
}

// Join subscribes conn to the conversation room after authorizing userID.
// Other members are told about the joiner. Joining twice is a no-op.
func (m *Manager) Join(ctx context.Context, userID string, conversationID string, conn Conn) error {
	if conversationID == "" {
		return apperr.InvalidArgument("conversationId is required")
	}
	if err := m.auth.AuthorizeParticipant(ctx, conversationID, userID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[conversationID]
	if !ok {
		room = make(map[string]Conn)
		m.rooms[conversationID] = room
	}
	if _, joined := room[conn.ID()]; joined {
		return nil
	}
	room[conn.ID()] = conn
	if _, ok := m.memberships[conn.ID()]; !ok {
		m.memberships[conn.ID()] = make(map[string]struct{})
	}
	m.memberships[conn.ID()][conversationID] = struct{}{}

	m.broadcastLocked(conversationID, models.ServerEvent{
		Event: models.EventUserJoinedConversation,
		Data:  models.RoomMembership{UserID: userID, ConversationID: conversationID},
	}, conn.ID())
	return nil
}

// Leave unsubscribes conn and notifies the remaining members. Leaving a room
// that was not joined is a no-op.
func (m *Manager) Leave(userID string, conversationID string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(userID, conversationID, conn.ID())
}

// LeaveAll drops conn from every room it joined and returns those room ids.
func (m *Manager) LeaveAll(conn Conn) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	joined := make([]string, 0, len(m.memberships[conn.ID()]))
	for conversationID := range m.memberships[conn.ID()] {
		joined = append(joined, conversationID)
	}
	sort.Strings(joined)
	for _, conversationID := range joined {
		m.leaveLocked(conn.UserID(), conversationID, conn.ID())
	}
	if len(joined) > 0 {
		m.log.Debug("connection left rooms", "conn_id", conn.ID(), "user_id", conn.UserID(), "rooms", len(joined))
	}
	return joined
}

// Broadcast delivers event to every connection in the room. Delivery is
// best-effort; it returns how many connections accepted the event.
func (m *Manager) Broadcast(conversationID string, event models.ServerEvent) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcastLocked(conversationID, event, "")
}

// BroadcastExcept is Broadcast without the connection exceptConnID.
func (m *Manager) BroadcastExcept(conversationID string, event models.ServerEvent, exceptConnID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcastLocked(conversationID, event, exceptConnID)
}

// IsMember reports whether the connection is subscribed to the room.
func (m *Manager) IsMember(conversationID string, connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[conversationID][connID]
	return ok
}

// Size returns the number of subscribed connections in the room.
func (m *Manager) Size(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms[conversationID])
}

func (m *Manager) leaveLocked(userID string, conversationID string, connID string) {
	room, ok := m.rooms[conversationID]
	if !ok {
		return
	}
	if _, joined := room[connID]; !joined {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(m.rooms, conversationID)
	}
	if rooms, ok := m.memberships[connID]; ok {
		delete(rooms, conversationID)
		if len(rooms) == 0 {
			delete(m.memberships, connID)
		}
	}

	m.broadcastLocked(conversationID, models.ServerEvent{
		Event: models.EventUserLeftConversation,
		Data:  models.RoomMembership{UserID: userID, ConversationID: conversationID},
	}, "")
}

func (m *Manager) broadcastLocked(conversationID string, event models.ServerEvent, exceptConnID string) int {
	delivered := 0
	for id, conn := range m.rooms[conversationID] {
		if id == exceptConnID {
			continue
		}
		if conn.Send(event) {
			delivered++
		}
	}
	return delivered
}

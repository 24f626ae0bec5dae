// Package presence tracks which users currently hold at least one open connection.
package presence

import (
	"log/slog"
	"sort"
	"sync"

	"conversation-service/internal/models"
	"conversation-service/internal/observability"
)

// Conn is a connection handle that can receive server events.
// Send must not block; it reports whether the event was queued.
type Conn interface {
	ID() string
	UserID() string
	Send(event models.ServerEvent) bool
}

type entry struct {
	role  models.Role
	conns map[string]Conn
}

// Registry maps user ids to their open connections. All mutations and the
// broadcasts they trigger happen under one lock, so status events reach every
// connection in the order the registry applied them.
type Registry struct {
	mu    sync.Mutex
	users map[string]*entry
	log   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{users: make(map[string]*entry), log: log}
}

// Register adds conn under userID and sends it the onlineUsers snapshot.
// The first connection of a user broadcasts userStatusChange(online) to every
// other connection. The snapshot is returned.
func (r *Registry) Register(userID string, role models.Role, conn Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[userID]
	if !ok {
		e = &entry{role: role, conns: make(map[string]Conn)}
		r.users[userID] = e
	}
	e.conns[conn.ID()] = conn

	online := r.onlineLocked()
	conn.Send(models.ServerEvent{Event: models.EventOnlineUsers, Data: online})

	if !ok {
		r.broadcastLocked(models.ServerEvent{
			Event: models.EventUserStatusChange,
			Data:  models.UserStatusChange{UserID: userID, Status: models.StatusOnline},
		}, conn.ID())
		observability.SetOnlineUsers(len(r.users))
		r.log.Debug("user online", "user_id", userID, "role", role)
	}
	return online
}

// Unregister removes conn. When it was the user's last connection the entry
// is deleted and userStatusChange(offline) is broadcast. It reports whether
// the user went offline.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, exists := e.conns[conn.ID()]; !exists {
		return false
	}
	delete(e.conns, conn.ID())
	if len(e.conns) > 0 {
		return false
	}

	delete(r.users, userID)
	r.broadcastLocked(models.ServerEvent{
		Event: models.EventUserStatusChange,
		Data:  models.UserStatusChange{UserID: userID, Status: models.StatusOffline},
	}, "")
	observability.SetOnlineUsers(len(r.users))
	r.log.Debug("user offline", "user_id", userID)
	return true
}

// IsOnline reports whether the user has at least one open connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[userID]
	return ok
}

// Role returns the role bound at the user's first connection.
func (r *Registry) Role(userID string) (models.Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.users[userID]
	if !ok {
		return "", false
	}
	return e.role, true
}

// OnlineUsers returns the sorted ids of connected users.
func (r *Registry) OnlineUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineLocked()
}

// Count returns the number of connected users.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// SendToUser delivers event on the user's personal channel, i.e. every open
// connection of that user. It returns how many connections accepted it.
func (r *Registry) SendToUser(userID string, event models.ServerEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[userID]
	if !ok {
		return 0
	}
	delivered := 0
	for _, conn := range e.conns {
		if conn.Send(event) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) onlineLocked() []string {
	online := make([]string, 0, len(r.users))
	for id := range r.users {
		online = append(online, id)
	}
	sort.Strings(online)
	return online
}

func (r *Registry) broadcastLocked(event models.ServerEvent, exceptConnID string) {
	for _, e := range r.users {
		for id, conn := range e.conns {
			if id == exceptConnID {
				continue
			}
			conn.Send(event)
		}
	}
}

package models

import "time"

// Role distinguishes the two kinds of marketplace users.
type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleFreelancer
}

// Identity is the resolved caller of a request or connection.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// LastMessage is the preview snapshot kept on a conversation.
type LastMessage struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is a private exchange between two users.
type Conversation struct {
	ID           string       `json:"id"`
	Participants []string     `json:"participants"`
	LastMessage  *LastMessage `json:"lastMessage,omitempty"`
	IsActive     bool         `json:"isActive"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// ConversationPatch is a partial update. Nil fields are left untouched.
type ConversationPatch struct {
	LastMessage *LastMessage
	IsActive    *bool
	UpdatedAt   time.Time
}

// ConversationSummary is a list-view row for one caller.
type ConversationSummary struct {
	Conversation
	UnreadCount int `json:"unreadCount"`
}

package models

import "time"

// MessageStatus is the simplified delivery state of a message.
type MessageStatus string

const (
	StatusSent MessageStatus = "sent"
	StatusRead MessageStatus = "read"
)

// DeletedPlaceholder replaces the content of a soft-deleted message.
const DeletedPlaceholder = "This message was deleted"

// ReadReceipt records that a user has viewed a message.
type ReadReceipt struct {
	UserID string    `db:"user_id" json:"userId"`
	ReadAt time.Time `db:"read_at" json:"readAt"`
}

// Message represents a conversation message.
type Message struct {
	ID             string        `db:"id" json:"id"`
	ConversationID string        `db:"conversation_id" json:"conversationId"`
	SenderID       string        `db:"sender_id" json:"senderId"`
	Content        string        `db:"content" json:"content"`
	Status         MessageStatus `db:"status" json:"status"`
	ReadBy         []ReadReceipt `db:"-" json:"readBy"`
	IsDeleted      bool          `db:"is_deleted" json:"isDeleted"`
	CreatedAt      time.Time     `db:"created_at" json:"createdAt"`
}

// ReadByUser reports whether userID already has a receipt on the message.
func (m Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

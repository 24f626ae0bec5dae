package models

import (
	"encoding/json"
	"time"
)

// Client to server event names.
const (
	EventJoinConversation  = "joinConversation"
	EventLeaveConversation = "leaveConversation"
	EventSendMessage       = "sendMessage"
	EventTyping            = "typing"
	EventMarkAsRead        = "markAsRead"
)

// Server to client event names.
const (
	EventOnlineUsers            = "onlineUsers"
	EventUserStatusChange       = "userStatusChange"
	EventUserJoinedConversation = "userJoinedConversation"
	EventUserLeftConversation   = "userLeftConversation"
	EventNewMessage             = "newMessage"
	EventConversationUpdate     = "conversationUpdate"
	EventMessageNotification    = "messageNotification"
	EventUserTyping             = "userTyping"
	EventMessagesRead           = "messagesRead"
	EventMessageDeleted         = "messageDeleted"
	EventError                  = "error"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Frame is the envelope of every frame read from a connection.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerEvent is the envelope of every frame written to a connection.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type JoinConversationPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type LeaveConversationPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type SendMessagePayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content" validate:"required"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
}

type MarkAsReadPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type UserStatusChange struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type RoomMembership struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

type MessageNotification struct {
	ConversationID string  `json:"conversationId"`
	Message        Message `json:"message"`
}

type UserTyping struct {
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
	ConversationID string `json:"conversationId"`
}

// MessagesRead carries the reader under both userId and readerUserId.
type MessagesRead struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	ReaderUserID   string    `json:"readerUserId"`
	ReadAt         time.Time `json:"readAt"`
}

type MessageDeleted struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrNotConnected = errors.New("not connected")
)

// MessageStatus tracks the delivery lifecycle of a message as the server
// reports it. StatusFailed is local-only: it marks an optimistic message
// whose durable send failed and which is waiting for a manual retry.
type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusFailed    MessageStatus = "FAILED"
)

// Message is a single chat message between two marketplace users.
//
// ID is server-assigned once persisted. An optimistic message carries a
// client-generated temporary id and Pending=true until it is reconciled
// with the server copy; reconciliation replaces the entry wholesale, so no
// two messages in a conversation share an id afterwards.
type Message struct {
	ID         int64          `json:"id"`
	SenderID   int64          `json:"senderId" validate:"required"`
	ReceiverID int64          `json:"receiverId" validate:"required"`
	Text       string         `json:"text"`
	Timestamp  time.Time      `json:"timestamp"`
	Status     MessageStatus  `json:"status,omitempty"`
	ProjectID  int64          `json:"projectId,omitempty"`
	Pending    bool           `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// ConversationID is only set on server copies that carry it, notably
	// the send response, which reveals the conversation id before the
	// first history load.
	ConversationID int64 `json:"conversationId,omitempty"`
}

// Conversation is the server's view of a two-party message history.
// Identity is the unordered participant pair; ID is opaque to this core.
type Conversation struct {
	ID       int64     `json:"conversationId"`
	Messages []Message `json:"messages"`
}

// TypingIndicator is an ephemeral signal. It is never persisted or retried;
// the receiving side expires it on a timer.
type TypingIndicator struct {
	SenderID   int64 `json:"senderId" validate:"required"`
	ReceiverID int64 `json:"receiverId" validate:"required"`
	IsTyping   bool  `json:"isTyping"`
}

type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

// PresenceStatus is a user's online state, broadcast to every connected
// client. Last write wins.
type PresenceStatus struct {
	UserID int64  `json:"userId" validate:"required"`
	Status Status `json:"status" validate:"required,oneof=ONLINE OFFLINE"`
}

// ReadReceipt announces that ReceiverID has read every message sent to them
// by SenderID in their shared conversation.
type ReadReceipt struct {
	SenderID   int64 `json:"senderId" validate:"required"`
	ReceiverID int64 `json:"receiverId"`
}

// OutboundMessage is the publish body for the chat destination.
type OutboundMessage struct {
	SenderID   int64  `json:"senderId"`
	ReceiverID int64  `json:"receiverId"`
	Text       string `json:"text"`
	ProjectID  int64  `json:"projectId,omitempty"`
}

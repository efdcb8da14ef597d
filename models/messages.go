package models

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps a peer-supplied role onto the two roles the transcript knows.
// Anything that is not "user" is rendered as assistant output.
func ParseRole(s string) Role {
	if s == string(RoleUser) {
		return RoleUser
	}
	return RoleAssistant
}

// Message is a single entry in the loaded conversation.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Text        string    `json:"text"`
	IsStreaming bool      `json:"is_streaming"`
	Confirmed   bool      `json:"confirmed,omitempty"` // peer echoed or supplied this message
	CreatedAt   time.Time `json:"created_at"`
}

// NewMessageID returns a client-side id for messages the peer has not named yet.
func NewMessageID() string {
	return uuid.New().String()
}

// NewUserMessage creates an unconfirmed user message.
func NewUserMessage(text string) Message {
	return Message{
		ID:        NewMessageID(),
		Role:      RoleUser,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// NewAssistantMessage creates a complete assistant message.
func NewAssistantMessage(text string) Message {
	return Message{
		ID:        NewMessageID(),
		Role:      RoleAssistant,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// NewStreamingMessage creates the assistant message that chunks are accumulated into.
func NewStreamingMessage(text string) Message {
	msg := NewAssistantMessage(text)
	msg.IsStreaming = true
	return msg
}

package models

import (
	"encoding/json"
	"fmt"
)

// Inbound envelope tags.
const (
	TypeSessionCreated      = "session_created"
	TypeUserMessage         = "user_message"
	TypeStreamChunk         = "stream_chunk"
	TypeStreamEnd           = "stream_end"
	TypeAIResponse          = "ai_response"
	TypeSidebarHistory      = "sidebar_history"
	TypeConversationHistory = "conversation_history"
	TypeAllMessages         = "all_messages"
	TypeContentTitleEdited  = "content_title_edited"
	TypeDeleted             = "deleted"
	TypeDisconnected        = "disconnected"
	TypeError               = "error"
)

// StatusSuccess is the status value the peer uses for completed operations.
const StatusSuccess = "success"

// Inbound is the closed set of envelopes the peer can send. Every decoded frame
// is exactly one of the types in this file; tags this client does not know decode
// to Unknown.
type Inbound interface {
	EnvelopeType() string
}

type SessionCreated struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	UserID    uint64 `json:"user_id"`
}

// UserMessageEcho confirms a prompt the peer has stored.
type UserMessageEcho struct {
	UserID            uint64 `json:"user_id"`
	ConversationID    string `json:"conversation_id"`
	ConversationTitle string `json:"conversation_title"`
	Prompt            string `json:"prompt"`
	MessageID         string `json:"message_id,omitempty"`
}

type StreamChunk struct {
	Chunk string `json:"chunk"`
}

type StreamEnd struct {
	Status            string `json:"status"`
	UserID            uint64 `json:"user_id"`
	ConversationID    string `json:"conversation_id"`
	ConversationTitle string `json:"conversation_title"`
}

// Succeeded reports whether the stream finished normally.
func (e StreamEnd) Succeeded() bool { return e.Status == StatusSuccess }

// AIResponse is the non-streaming fallback carrying a whole answer.
type AIResponse struct {
	Status   string `json:"status"`
	Response string `json:"response"`
}

type SidebarHistory struct {
	Status        string                `json:"status"`
	Conversations []ConversationSummary `json:"conversations"`
}

// TranscriptEntry is one message of a peer-supplied transcript.
type TranscriptEntry struct {
	MessageID string `json:"message_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// Message converts the entry into a confirmed transcript message.
func (e TranscriptEntry) Message() Message {
	id := e.MessageID
	if id == "" {
		id = NewMessageID()
	}
	return Message{
		ID:        id,
		Role:      ParseRole(e.Role),
		Text:      e.Content,
		Confirmed: true,
	}
}

type ConversationHistory struct {
	Status   string            `json:"status"`
	Messages []TranscriptEntry `json:"messages"`
}

// AllMessages answers fetch_all_messages with every message of the user.
type AllMessages struct {
	Status   string            `json:"status"`
	Messages []TranscriptEntry `json:"messages"`
}

type ContentTitleEdited struct {
	Status string `json:"status"`
	Title  string `json:"title"`
}

// Deleted acknowledges delete_content / delete_message. DeletedType is one of
// "conversation", "message" or "message_and_conversation".
type Deleted struct {
	Status      string `json:"status"`
	DeletedType string `json:"deleted_type"`
	TargetID    string `json:"target_id"`
	Title       string `json:"title,omitempty"`
	Message     string `json:"message,omitempty"`
}

type Disconnected struct {
	Status string `json:"status"`
}

type ErrorEnvelope struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error"`
	Code   int    `json:"code,omitempty"`
}

// Unknown carries a frame whose tag is not part of this protocol revision.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (SessionCreated) EnvelopeType() string      { return TypeSessionCreated }
func (UserMessageEcho) EnvelopeType() string     { return TypeUserMessage }
func (StreamChunk) EnvelopeType() string         { return TypeStreamChunk }
func (StreamEnd) EnvelopeType() string           { return TypeStreamEnd }
func (AIResponse) EnvelopeType() string          { return TypeAIResponse }
func (SidebarHistory) EnvelopeType() string      { return TypeSidebarHistory }
func (ConversationHistory) EnvelopeType() string { return TypeConversationHistory }
func (AllMessages) EnvelopeType() string         { return TypeAllMessages }
func (ContentTitleEdited) EnvelopeType() string  { return TypeContentTitleEdited }
func (Deleted) EnvelopeType() string             { return TypeDeleted }
func (Disconnected) EnvelopeType() string        { return TypeDisconnected }
func (ErrorEnvelope) EnvelopeType() string       { return TypeError }
func (u Unknown) EnvelopeType() string           { return u.Type }

// DecodeInbound parses one text frame into its envelope type.
func DecodeInbound(data []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch head.Type {
	case TypeSessionCreated:
		return decodeAs[SessionCreated](data)
	case TypeUserMessage:
		return decodeAs[UserMessageEcho](data)
	case TypeStreamChunk:
		return decodeAs[StreamChunk](data)
	case TypeStreamEnd:
		return decodeAs[StreamEnd](data)
	case TypeAIResponse:
		return decodeAs[AIResponse](data)
	case TypeSidebarHistory:
		return decodeAs[SidebarHistory](data)
	case TypeConversationHistory:
		return decodeAs[ConversationHistory](data)
	case TypeAllMessages:
		return decodeAs[AllMessages](data)
	case TypeContentTitleEdited:
		return decodeAs[ContentTitleEdited](data)
	case TypeDeleted:
		return decodeAs[Deleted](data)
	case TypeDisconnected:
		return decodeAs[Disconnected](data)
	case TypeError:
		return decodeAs[ErrorEnvelope](data)
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{Type: head.Type, Raw: raw}, nil
	}
}

func decodeAs[T Inbound](data []byte) (Inbound, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s envelope: %w", v.EnvelopeType(), err)
	}
	return v, nil
}

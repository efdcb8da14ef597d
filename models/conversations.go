package models

import (
	"time"

	"github.com/mattn/go-runewidth"
)

// DefaultTitleLimit is the display width used for sidebar titles.
const DefaultTitleLimit = 50

// ConversationSummary is one entry of the peer-owned sidebar list.
type ConversationSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// DisplayTitle returns the title cut to limit terminal cells, ending in an ellipsis
// when it had to be shortened. The stored Title is never modified.
func (c ConversationSummary) DisplayTitle(limit int) string {
	if limit <= 0 {
		limit = DefaultTitleLimit
	}
	title := c.Title
	if title == "" {
		title = "New Chat"
	}
	if runewidth.StringWidth(title) <= limit {
		return title
	}
	return runewidth.Truncate(title, limit, "...")
}

// SessionHandle identifies the live authenticated session.
type SessionHandle struct {
	SessionID            string    `json:"session_id"`
	UserID               uint64    `json:"user_id"`
	ActiveConversationID string    `json:"current_session,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

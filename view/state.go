package view

import (
	"html"
	"strings"

	"github.com/davidakpele/chatengine/conversation"
	"github.com/davidakpele/chatengine/markdown"
	"github.com/davidakpele/chatengine/models"
)

// MessageView is a transcript entry ready for the page. Assistant text is
// rendered markdown; user text is escaped with line breaks kept.
type MessageView struct {
	ID          string               `json:"id"`
	Role        models.Role          `json:"role"`
	Text        string               `json:"text"`
	HTML        string               `json:"html"`
	CodeBlocks  []markdown.CodeBlock `json:"code_blocks,omitempty"`
	IsStreaming bool                 `json:"is_streaming"`
}

type SidebarEntry struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Label  string `json:"label"`
	Active bool   `json:"active"`
}

// StateView is what GET /api/state and the event stream return.
type StateView struct {
	Connection           string         `json:"connection"`
	Messages             []MessageView  `json:"messages"`
	Sidebar              []SidebarEntry `json:"sidebar"`
	ActiveConversationID string         `json:"active_conversation_id,omitempty"`
	Loading              bool           `json:"loading"`
}

func (h *Handler) buildState(st conversation.State) StateView {
	v := StateView{
		Connection:           h.backend.State().String(),
		Messages:             make([]MessageView, 0, len(st.Messages)),
		Sidebar:              make([]SidebarEntry, 0, len(st.Sidebar)),
		ActiveConversationID: st.ActiveConversationID,
		Loading:              st.Loading,
	}
	for _, msg := range st.Messages {
		v.Messages = append(v.Messages, h.renderMessage(msg))
	}
	for _, c := range st.Sidebar {
		v.Sidebar = append(v.Sidebar, SidebarEntry{
			ID:     c.ID,
			Title:  c.Title,
			Label:  c.DisplayTitle(h.titleLimit),
			Active: c.ID == st.ActiveConversationID,
		})
	}
	return v
}

func (h *Handler) renderMessage(msg models.Message) MessageView {
	mv := MessageView{
		ID:          msg.ID,
		Role:        msg.Role,
		Text:        msg.Text,
		IsStreaming: msg.IsStreaming,
	}
	if msg.Role == models.RoleUser {
		mv.HTML = strings.ReplaceAll(html.EscapeString(msg.Text), "\n", "<br>")
		return mv
	}
	frag := h.renderer.RenderScoped(msg.ID, msg.Text)
	mv.HTML = frag.HTML
	mv.CodeBlocks = frag.CodeBlocks
	return mv
}

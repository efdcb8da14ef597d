// Package conversation holds the client-side view of a chat: the loaded
// transcript, the peer-owned sidebar, the active conversation pointer and the
// cursor of the response currently being streamed.
package conversation

import (
	"slices"
	"sync"

	"github.com/davidakpele/chatengine/models"
)

// Cursor addresses the streaming message. MessageIndex is -1 when nothing is
// streaming, and Buffer is then empty.
type Cursor struct {
	MessageIndex int    `json:"message_index"`
	Buffer       string `json:"buffer"`
}

var idleCursor = Cursor{MessageIndex: -1}

// Active reports whether a response is being streamed.
func (c Cursor) Active() bool { return c.MessageIndex >= 0 }

// State is a point-in-time copy of the store handed to readers and subscribers.
type State struct {
	Messages             []models.Message             `json:"messages"`
	Sidebar              []models.ConversationSummary `json:"sidebar"`
	SidebarLoaded        bool                         `json:"sidebar_loaded"`
	ActiveConversationID string                       `json:"active_conversation_id,omitempty"`
	Loading              bool                         `json:"loading"`
	Cursor               Cursor                       `json:"cursor"`
}

// Store is the single owner of conversation state. Every mutation takes the
// write lock and subscribers are notified after it is released.
type Store struct {
	mu    sync.RWMutex
	state State

	subMu       sync.Mutex
	subscribers map[int]func(State)
	nextSub     int
}

func NewStore() *Store {
	return &Store{
		state:       State{Cursor: idleCursor},
		subscribers: make(map[int]func(State)),
	}
}

// Subscribe registers fn to receive a snapshot after every change. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

// update applies fn under the write lock. fn reports whether it changed anything.
func (s *Store) update(fn func(st *State) bool) bool {
	s.mu.Lock()
	changed := fn(&s.state)
	var snap State
	if changed {
		snap = s.copyLocked()
	}
	s.mu.Unlock()

	if changed {
		s.notify(snap)
	}
	return changed
}

func (s *Store) notify(snap State) {
	s.subMu.Lock()
	subs := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Store) copyLocked() State {
	st := s.state
	st.Messages = slices.Clone(s.state.Messages)
	st.Sidebar = slices.Clone(s.state.Sidebar)
	return st
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.Messages)
}

func (s *Store) Sidebar() []models.ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.Sidebar)
}

func (s *Store) ActiveConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ActiveConversationID
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Loading
}

func (s *Store) Cursor() Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Cursor
}

// HasConversation reports whether id is in the sidebar list.
func (s *Store) HasConversation(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return containsConversation(s.state.Sidebar, id)
}

// AppendMessage adds a complete message to the end of the transcript. A message
// whose id is already loaded is ignored. Streaming messages are only created by
// the Accumulator.
func (s *Store) AppendMessage(msg models.Message) bool {
	msg.IsStreaming = false
	return s.update(func(st *State) bool {
		if indexOf(st.Messages, msg.ID) >= 0 {
			return false
		}
		st.Messages = append(st.Messages, msg)
		return true
	})
}

// AddErrorMessage appends an assistant message describing a failure.
func (s *Store) AddErrorMessage(text string) models.Message {
	msg := models.NewAssistantMessage(text)
	s.AppendMessage(msg)
	return msg
}

// ConfirmUserMessage marks the oldest unconfirmed user message with the same
// text as acknowledged by the peer, adopting messageID when one is supplied.
// If no such message is pending a confirmed one is appended. Repeated delivery
// of the same echo changes nothing.
func (s *Store) ConfirmUserMessage(text, messageID string) bool {
	return s.update(func(st *State) bool {
		if messageID != "" && indexOf(st.Messages, messageID) >= 0 {
			return false
		}
		for i := range st.Messages {
			m := &st.Messages[i]
			if m.Role != models.RoleUser || m.Confirmed || m.Text != text {
				continue
			}
			m.Confirmed = true
			if messageID != "" {
				m.ID = messageID
			}
			return true
		}
		// The echo of the latest prompt may arrive again after the reply has
		// started streaming.
		if i := lastUserIndex(st.Messages); i >= 0 && st.Messages[i].Text == text && st.Messages[i].Confirmed {
			return false
		}

		msg := models.NewUserMessage(text)
		msg.Confirmed = true
		if messageID != "" {
			msg.ID = messageID
		}
		st.Messages = append(st.Messages, msg)
		return true
	})
}

// ReplaceMessages swaps the transcript for msgs and drops any stream in progress.
// Duplicate ids keep their first occurrence.
func (s *Store) ReplaceMessages(msgs []models.Message) {
	s.update(func(st *State) bool {
		st.Messages = dedupe(msgs)
		st.Cursor = idleCursor
		return true
	})
}

// ClearMessages empties the transcript for a new chat.
func (s *Store) ClearMessages() {
	s.ReplaceMessages(nil)
}

// RemoveMessage deletes the message with id. The cursor follows the message it
// addressed, or is cleared when that message is the one removed.
func (s *Store) RemoveMessage(id string) bool {
	return s.update(func(st *State) bool {
		idx := indexOf(st.Messages, id)
		if idx < 0 {
			return false
		}
		st.Messages = slices.Delete(st.Messages, idx, idx+1)
		switch {
		case st.Cursor.MessageIndex == idx:
			st.Cursor = idleCursor
		case st.Cursor.MessageIndex > idx:
			st.Cursor.MessageIndex--
		}
		return true
	})
}

// ReplaceSidebar installs the peer's conversation list. The active conversation
// is cleared when the new list no longer contains it.
func (s *Store) ReplaceSidebar(list []models.ConversationSummary) {
	s.update(func(st *State) bool {
		st.Sidebar = slices.Clone(list)
		st.SidebarLoaded = true
		if st.ActiveConversationID != "" && !containsConversation(st.Sidebar, st.ActiveConversationID) {
			st.ActiveConversationID = ""
		}
		return true
	})
}

// SetActiveConversation points the store at id. An empty id means a new,
// unsaved chat.
func (s *Store) SetActiveConversation(id string) bool {
	return s.update(func(st *State) bool {
		if st.ActiveConversationID == id {
			return false
		}
		st.ActiveConversationID = id
		return true
	})
}

func (s *Store) SetLoading(loading bool) bool {
	return s.update(func(st *State) bool {
		if st.Loading == loading {
			return false
		}
		st.Loading = loading
		return true
	})
}

// Restore loads previously persisted state. Any streaming flag is frozen and
// the cursor starts idle.
func (s *Store) Restore(msgs []models.Message, sidebar []models.ConversationSummary, activeID string) {
	s.update(func(st *State) bool {
		st.Messages = dedupe(msgs)
		for i := range st.Messages {
			st.Messages[i].IsStreaming = false
		}
		st.Sidebar = slices.Clone(sidebar)
		st.SidebarLoaded = len(sidebar) > 0
		st.ActiveConversationID = activeID
		if st.SidebarLoaded && activeID != "" && !containsConversation(st.Sidebar, activeID) {
			st.ActiveConversationID = ""
		}
		st.Loading = false
		st.Cursor = idleCursor
		return true
	})
}

func indexOf(msgs []models.Message, id string) int {
	return slices.IndexFunc(msgs, func(m models.Message) bool { return m.ID == id })
}

func lastUserIndex(msgs []models.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			return i
		}
	}
	return -1
}

func containsConversation(list []models.ConversationSummary, id string) bool {
	return slices.ContainsFunc(list, func(c models.ConversationSummary) bool { return c.ID == id })
}

func dedupe(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		m.IsStreaming = false
		out = append(out, m)
	}
	return out
}

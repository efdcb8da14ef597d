package conversation

import (
	"strings"

	"github.com/davidakpele/chatengine/models"
)

// Accumulator folds stream_chunk payloads into one growing assistant message.
// The cursor buffer is the source of truth: every chunk rewrites the message
// text from it instead of appending to the text.
type Accumulator struct {
	store *Store
}

func NewAccumulator(store *Store) *Accumulator {
	return &Accumulator{store: store}
}

// Append adds chunk to the response in progress, creating the streaming message
// on the first chunk after a reset. Empty and whitespace-only chunks are
// ignored and Append reports false for them.
func (a *Accumulator) Append(chunk string) bool {
	if strings.TrimSpace(chunk) == "" {
		return false
	}
	return a.store.update(func(st *State) bool {
		if !st.Cursor.Active() {
			freezeAll(st.Messages)
			st.Messages = append(st.Messages, models.NewStreamingMessage(chunk))
			st.Cursor = Cursor{MessageIndex: len(st.Messages) - 1, Buffer: chunk}
			return true
		}
		st.Cursor.Buffer += chunk
		st.Messages[st.Cursor.MessageIndex].Text = st.Cursor.Buffer
		return true
	})
}

// Complete finishes the stream successfully: the message takes the final buffer
// and stops streaming. It returns the finished message, or false when nothing
// was streaming.
func (a *Accumulator) Complete() (models.Message, bool) {
	return a.finish(true)
}

// Abort ends the stream after a failure. The partial message stays in the
// transcript, frozen.
func (a *Accumulator) Abort() (models.Message, bool) {
	return a.finish(false)
}

func (a *Accumulator) finish(success bool) (models.Message, bool) {
	var (
		msg   models.Message
		found bool
	)
	a.store.update(func(st *State) bool {
		if !st.Cursor.Active() {
			return false
		}
		m := &st.Messages[st.Cursor.MessageIndex]
		if success {
			m.Text = st.Cursor.Buffer
		}
		m.IsStreaming = false
		msg, found = *m, true
		st.Cursor = idleCursor
		return true
	})
	return msg, found
}

// Cursor returns the current stream cursor.
func (a *Accumulator) Cursor() Cursor {
	return a.store.Cursor()
}

func freezeAll(msgs []models.Message) {
	for i := range msgs {
		msgs[i].IsStreaming = false
	}
}

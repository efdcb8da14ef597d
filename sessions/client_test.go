package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidakpele/chatengine/models"
	"github.com/davidakpele/chatengine/stores"
)

// fakeTransport records every envelope written to it.
type fakeTransport struct {
	mu       sync.Mutex
	written  []map[string]any
	writeErr error
	closed   bool
}

func (f *fakeTransport) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	f.written = append(f.written, m)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.written))
	for _, m := range f.written {
		out = append(out, m["type"].(string))
	}
	return out
}

func (f *fakeTransport) last() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.written) == 0 {
		return nil
	}
	return f.written[len(f.written)-1]
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = nil
}

// manualClock hands out timers that only fire when the test says so.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	fn      func()
	d       time.Duration
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{fn: f, d: d}
	c.timers = append(c.timers, t)
	return t
}

// fire runs the callback of timer i regardless of whether it was stopped,
// the way a timer that already fired races with Stop.
func (c *manualClock) fire(i int) {
	c.mu.Lock()
	t := c.timers[i]
	c.mu.Unlock()
	t.fn()
}

func (c *manualClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newActiveClient(t *testing.T, opts ...Option) (*Client, *fakeTransport, *manualClock) {
	t.Helper()
	clock := &manualClock{}
	opts = append([]Option{WithLogger(quietLogger()), WithAfterFunc(clock.AfterFunc)}, opts...)
	c := NewClient("tok", 42, opts...)
	tr := &fakeTransport{}
	c.Attach(tr)
	c.HandleOpen()
	require.Equal(t, StateActive, c.State())
	return c, tr, clock
}

func frame(t *testing.T, v map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestHandleOpenSendsHandshake(t *testing.T) {
	_, tr, _ := newActiveClient(t)
	assert.Equal(t, []string{models.TypeStartConnection, models.TypeFetchSidebarHistory}, tr.types())
	assert.Equal(t, "tok", tr.written[0]["token"])
	assert.Equal(t, float64(42), tr.written[1]["user_id"])
}

func TestHandleOpenFailureCloses(t *testing.T) {
	c := NewClient("tok", 1, WithLogger(quietLogger()))
	c.Attach(&fakeTransport{writeErr: errors.New("broken pipe")})
	c.HandleOpen()
	assert.Equal(t, StateClosed, c.State())
	select {
	case <-c.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
}

func TestStreamingScenario(t *testing.T) {
	c, tr, _ := newActiveClient(t)
	require.NoError(t, c.SendUserMessage("hi", ""))
	assert.True(t, c.Store().Loading())
	assert.Equal(t, models.TypeAIRequest, tr.last()["type"])
	assert.Equal(t, "hi", tr.last()["prompt"])

	for _, chunk := range []string{"Hel", "lo ", "world"} {
		c.HandleMessage(frame(t, map[string]any{"type": "stream_chunk", "chunk": chunk}))
	}
	tr.reset()
	c.HandleMessage(frame(t, map[string]any{
		"type": "stream_end", "status": "success", "user_id": 42,
		"conversation_id": "c1", "conversation_title": "Greeting",
	}))

	msgs := c.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello world", msgs[1].Text)
	assert.False(t, msgs[1].IsStreaming)
	assert.False(t, c.Store().Loading())
	assert.False(t, c.Store().Cursor().Active())
	assert.Equal(t, "c1", c.Store().ActiveConversationID())
	assert.Equal(t, []string{models.TypeFetchSidebarHistory}, tr.types())
}

func TestSendWhileNotOpen(t *testing.T) {
	c := NewClient("tok", 1, WithLogger(quietLogger()))

	err := c.SendUserMessage("hello", "")
	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.ErrorIs(t, err, ErrNotConnected)

	msgs := c.Store().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
	assert.Equal(t, msgUnableToSend, msgs[0].Text)
	assert.Equal(t, -1, c.Store().Cursor().MessageIndex)
	assert.False(t, c.Store().Loading())
}

func TestSendWhileClosedLeavesCursor(t *testing.T) {
	c, _, _ := newActiveClient(t)
	c.HandleMessage(frame(t, map[string]any{"type": "stream_chunk", "chunk": "part"}))
	c.HandleClose()
	before := c.Store().Cursor()

	err := c.SendUserMessage("again", "")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, before, c.Store().Cursor())
}

func TestSendEmptyPrompt(t *testing.T) {
	c, tr, _ := newActiveClient(t)
	tr.reset()
	assert.ErrorIs(t, c.SendUserMessage("   ", ""), ErrEmptyPrompt)
	assert.Empty(t, tr.types())
	assert.Empty(t, c.Store().Messages())
}

func TestSendWriteFailure(t *testing.T) {
	c, tr, _ := newActiveClient(t)
	tr.writeErr = errors.New("write: broken pipe")

	err := c.SendUserMessage("hello", "")
	require.Error(t, err)
	msgs := c.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, msgFailedToSend, msgs[1].Text)
	assert.False(t, c.Store().Loading())
}

func TestCloseWhileStreaming(t *testing.T) {
	c, _, _ := newActiveClient(t)
	require.NoError(t, c.SendUserMessage("tell me", ""))
	c.HandleMessage(frame(t, map[string]any{"type": "stream_chunk", "chunk": "Once upon"}))
	require.True(t, c.Store().Cursor().Active())

	c.HandleClose()

	assert.Equal(t, StateClosed, c.State())
	cur := c.Store().Cursor()
	assert.Equal(t, -1, cur.MessageIndex)
	assert.Equal(t, "", cur.Buffer)
	assert.False(t, c.Store().Loading())

	msgs := c.Store().Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Once upon", msgs[1].Text)
	assert.False(t, msgs[1].IsStreaming)
	assert.Equal(t, msgConnectionLost, msgs[2].Text)

	// Frames after close are not dispatched.
	c.HandleMessage(frame(t, map[string]any{"type": "stream_chunk", "chunk": "late"}))
	assert.Len(t, c.Store().Messages(), 3)
}

func TestPeerDisconnectedClosesSession(t *testing.T) {
	c, _, _ := newActiveClient(t)
	c.HandleMessage(frame(t, map[string]any{"type": "disconnected", "status": "success"}))
	assert.Equal(t, StateClosed, c.State())
}

func TestPeerErrorEnvelope(t *testing.T) {
	c, _, _ := newActiveClient(t)
	require.NoError(t, c.SendUserMessage("q", ""))
	c.HandleMessage(frame(t, map[string]any{"type": "stream_chunk", "chunk": "par"}))
	c.HandleMessage(frame(t, map[string]any{"type": "error", "error": "model overloaded"}))

	msgs := c.Store().Messages()
	require.Len(t, msgs, 3)
	assert.False(t, msgs[1].IsStreaming)
	assert.Equal(t, "Error: model overloaded", msgs[2].Text)
	assert.False(t, c.Store().Loading())
	assert.False(t, c.Store().Cursor().Active())
	assert.Equal(t, StateActive, c.State())

	c.HandleMessage(frame(t, map[string]any{"type": "error"}))
	msgs = c.Store().Messages()
	assert.Equal(t, "Error: "+msgPeerErrorDflt, msgs[len(msgs)-1].Text)
}

func TestMalformedAndUnknownFramesAreDropped(t *testing.T) {
	c, tr, _ := newActiveClient(t)
	tr.reset()
	c.HandleMessage([]byte("not json"))
	c.HandleMessage(frame(t, map[string]any{"type": "typing"}))
	assert.Empty(t, c.Store().Messages())
	assert.Empty(t, tr.types())
	assert.Equal(t, StateActive, c.State())
}

func TestUserMessageEcho(t *testing.T) {
	c, tr, _ := newActiveClient(t)
	require.NoError(t, c.SendUserMessage("hi there", ""))
	tr.reset()

	echo := frame(t, map[string]any{
		"type": "user_message", "user_id": 42, "conversation_id": "c7",
		"conversation_title": "hi there", "prompt": "hi there", "message_id": "m1",
	})
	c.HandleMessage(echo)
	c.HandleMessage(echo)

	msgs := c.Store().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.True(t, msgs[0].Confirmed)
	assert.Equal(t, "c7", c.Store().ActiveConversationID())
	// c7 is not in the sidebar yet, so each echo asks for it.
	assert.Equal(t, []string{models.TypeFetchSidebarHistory, models.TypeFetchSidebarHistory}, tr.types())
}

func TestRepeatedEchoWhileStreaming(t *testing.T) {
	c, _, _ := newActiveClient(t)
	require.NoError(t, c.SendUserMessage("hi", ""))

	echo := frame(t, map[string]any{"type": "user_message", "user_id": 42, "conversation_id": "c1", "prompt": "hi"})
	c.HandleMessage(echo)
	c.HandleMessage(frame(t, map[string]any{"type": "stream_chunk", "chunk": "Hello"}))
	c.HandleMessage(echo)

	msgs := c.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[1].Text)
	assert.True(t, msgs[1].IsStreaming)
}

func TestSidebarAndHistory(t *testing.T) {
	c, _, _ := newActiveClient(t)
	require.NoError(t, c.OpenConversation("c2"))
	assert.Equal(t, "c2", c.Store().ActiveConversationID())

	c.HandleMessage(frame(t, map[string]any{
		"type": "sidebar_history", "status": "success",
		"conversations": []map[string]any{{"id": "c1", "title": "One"}, {"id": "c2", "title": "Two"}},
	}))
	assert.Len(t, c.Store().Sidebar(), 2)
	assert.Equal(t, "c2", c.Store().ActiveConversationID())

	c.HandleMessage(frame(t, map[string]any{
		"type": "conversation_history", "status": "success",
		"messages": []map[string]any{
			{"message_id": "a", "role": "user", "content": "q"},
			{"message_id": "b", "role": "assistant", "content": "a"},
		},
	}))
	msgs := c.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[1].ID)

	c.HandleMessage(frame(t, map[string]any{
		"type": "sidebar_history", "status": "success",
		"conversations": []map[string]any{{"id": "c1", "title": "One"}},
	}))
	assert.Equal(t, "", c.Store().ActiveConversationID())
}

func TestAllMessagesReplacesTranscript(t *testing.T) {
	c, tr, _ := newActiveClient(t)
	require.NoError(t, c.FetchAllMessages())
	assert.Equal(t, models.TypeFetchAllMessages, tr.last()["type"])

	c.HandleMessage(frame(t, map[string]any{
		"type": "all_messages", "status": "success",
		"messages": []map[string]any{{"message_id": "x", "role": "user", "content": "everything"}},
	}))
	msgs := c.Store().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "everything", msgs[0].Text)
}

func TestRenameAndDeleteRefreshSidebarOnAck(t *testing.T) {
	c, tr, _ := newActiveClient(t)

	require.NoError(t, c.RenameConversation("c1", "  New title "))
	last := tr.last()
	assert.Equal(t, models.TypeEditContent, last["type"])
	assert.Equal(t, "c1", last["message_id"])
	assert.Equal(t, "New title", last["content"])
	assert.ErrorIs(t, c.RenameConversation("c1", " "), ErrEmptyTitle)

	tr.reset()
	c.HandleMessage(frame(t, map[string]any{"type": "content_title_edited", "status": "success", "title": "New title"}))
	assert.Equal(t, []string{models.TypeFetchSidebarHistory}, tr.types())

	require.NoError(t, c.DeleteConversation("c1"))
	assert.Equal(t, "c1", tr.last()["target_id"])

	tr.reset()
	c.HandleMessage(frame(t, map[string]any{"type": "deleted", "status": "success", "deleted_type": "conversation", "target_id": "c1"}))
	assert.Equal(t, []string{models.TypeFetchSidebarHistory}, tr.types())
}

func TestRefreshSidebarRequestsHistory(t *testing.T) {
	c, tr, _ := newActiveClient(t)
	tr.reset()
	require.NoError(t, c.RefreshSidebar())
	assert.Equal(t, []string{models.TypeFetchSidebarHistory}, tr.types())
	assert.EqualValues(t, 42, tr.last()["user_id"])

	require.NoError(t, c.Close())
	var terr *TransportError
	require.ErrorAs(t, c.RefreshSidebar(), &terr)
	assert.ErrorIs(t, terr, ErrNotConnected)
}

func TestDeletedActiveConversationClearsTranscript(t *testing.T) {
	c, _, _ := newActiveClient(t)
	require.NoError(t, c.OpenConversation("c1"))
	c.Store().AppendMessage(models.NewAssistantMessage("old"))

	c.HandleMessage(frame(t, map[string]any{"type": "deleted", "status": "success", "deleted_type": "conversation", "target_id": "c1"}))
	assert.Empty(t, c.Store().Messages())
	assert.Equal(t, "", c.Store().ActiveConversationID())
}

func TestDeleteMessage(t *testing.T) {
	c, tr, _ := newActiveClient(t)
	msg := models.NewAssistantMessage("remove me")
	c.Store().AppendMessage(msg)

	require.NoError(t, c.DeleteMessage(msg.ID))
	assert.Equal(t, models.TypeDeleteMessage, tr.last()["type"])
	assert.Len(t, c.Store().Messages(), 1)

	c.HandleMessage(frame(t, map[string]any{"type": "deleted", "status": "success", "deleted_type": "message", "target_id": msg.ID}))
	assert.Empty(t, c.Store().Messages())
}

func TestStartNewConversation(t *testing.T) {
	c, tr, _ := newActiveClient(t)
	require.NoError(t, c.OpenConversation("c1"))
	c.Store().AppendMessage(models.NewUserMessage("old"))
	tr.reset()

	require.NoError(t, c.StartNewConversation())
	assert.Equal(t, []string{models.TypeStartNewSession, models.TypeFetchSidebarHistory}, tr.types())
	assert.Empty(t, c.Store().Messages())
	assert.Equal(t, "", c.Store().ActiveConversationID())
}

func TestOpenConversationEndsPendingRequest(t *testing.T) {
	c, _, clock := newActiveClient(t)
	require.NoError(t, c.SendUserMessage("q", ""))
	c.HandleMessage(frame(t, map[string]any{"type": "stream_chunk", "chunk": "part"}))

	require.NoError(t, c.OpenConversation("c2"))
	assert.False(t, c.Store().Loading())
	assert.False(t, c.Store().Cursor().Active())
	for i := 0; i < clock.count(); i++ {
		assert.True(t, clock.timers[i].stopped)
		clock.fire(i)
	}
	for _, m := range c.Store().Messages() {
		assert.NotEqual(t, msgTimedOut, m.Text)
		assert.False(t, m.IsStreaming)
	}
	assert.Equal(t, "c2", c.Store().ActiveConversationID())
}

func TestSendUsesActiveConversation(t *testing.T) {
	c, tr, _ := newActiveClient(t)
	require.NoError(t, c.OpenConversation("c5"))
	require.NoError(t, c.Send("continue"))
	assert.Equal(t, "c5", tr.last()["session_id"])
}

func TestAIResponseAppendsAnswer(t *testing.T) {
	c, _, _ := newActiveClient(t)
	require.NoError(t, c.SendUserMessage("q", ""))
	c.HandleMessage(frame(t, map[string]any{"type": "ai_response", "status": "success", "response": "full answer"}))

	msgs := c.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "full answer", msgs[1].Text)
	assert.False(t, c.Store().Loading())
}

func TestRequestTimeoutFires(t *testing.T) {
	c, _, clock := newActiveClient(t, WithRequestTimeout(time.Second))
	require.NoError(t, c.SendUserMessage("q", ""))
	require.Equal(t, 1, clock.count())
	assert.Equal(t, time.Second, clock.timers[0].d)

	clock.fire(0)
	assert.False(t, c.Store().Loading())
	msgs := c.Store().Messages()
	assert.Equal(t, msgTimedOut, msgs[len(msgs)-1].Text)
}

func TestStaleTimerDoesNotClearNewRequest(t *testing.T) {
	c, _, clock := newActiveClient(t)
	require.NoError(t, c.SendUserMessage("first", ""))
	require.NoError(t, c.SendUserMessage("second", ""))
	require.Equal(t, 2, clock.count())
	assert.True(t, clock.timers[0].stopped)

	clock.fire(0)
	assert.True(t, c.Store().Loading())
	for _, m := range c.Store().Messages() {
		assert.NotEqual(t, msgTimedOut, m.Text)
	}
}

func TestTimerCancelledByStreamEnd(t *testing.T) {
	c, _, clock := newActiveClient(t)
	require.NoError(t, c.SendUserMessage("q", ""))
	c.HandleMessage(frame(t, map[string]any{"type": "stream_chunk", "chunk": "a"}))
	c.HandleMessage(frame(t, map[string]any{"type": "stream_end", "status": "success"}))

	for i := 0; i < clock.count(); i++ {
		assert.True(t, clock.timers[i].stopped)
		clock.fire(i)
	}
	msgs := c.Store().Messages()
	assert.Equal(t, "a", msgs[len(msgs)-1].Text)
}

func TestChunksKeepRequestAlive(t *testing.T) {
	c, _, clock := newActiveClient(t)
	require.NoError(t, c.SendUserMessage("q", ""))
	c.HandleMessage(frame(t, map[string]any{"type": "stream_chunk", "chunk": "a"}))
	require.Equal(t, 2, clock.count())
	assert.True(t, clock.timers[0].stopped)

	clock.fire(1)
	assert.False(t, c.Store().Loading())
	assert.False(t, c.Store().Cursor().Active())
	msgs := c.Store().Messages()
	assert.Equal(t, "a", msgs[1].Text)
	assert.False(t, msgs[1].IsStreaming)
}

func TestReplacedTimerFiringLateIsIgnored(t *testing.T) {
	c, _, clock := newActiveClient(t)
	require.NoError(t, c.SendUserMessage("hi", ""))
	c.HandleMessage(frame(t, map[string]any{"type": "stream_chunk", "chunk": "Hel"}))
	require.Equal(t, 2, clock.count())

	// The first timer fired just before the chunk stopped it.
	clock.fire(0)
	assert.True(t, c.Store().Loading())
	assert.True(t, c.Store().Cursor().Active())
	msgs := c.Store().Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsStreaming)

	c.HandleMessage(frame(t, map[string]any{"type": "stream_chunk", "chunk": "lo"}))
	c.HandleMessage(frame(t, map[string]any{"type": "stream_end", "status": "success"}))
	msgs = c.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[1].Text)
}

func TestDisconnectSendsEnvelopeAndCloses(t *testing.T) {
	c, tr, _ := newActiveClient(t)
	c.HandleMessage(frame(t, map[string]any{"type": "session_created", "status": "success", "session_id": "s9", "user_id": 42}))

	require.NoError(t, c.Disconnect())
	assert.Equal(t, StateClosed, c.State())
	assert.True(t, tr.closed)

	var disconnect map[string]any
	for _, m := range tr.written {
		if m["type"] == models.TypeDisconnect {
			disconnect = m
		}
	}
	require.NotNil(t, disconnect)
	assert.Equal(t, "s9", disconnect["session_id"])
}

func TestSnapshotsPersistAndRestore(t *testing.T) {
	ctx := context.Background()
	snaps := stores.NewSnapshots(stores.NewMemoryStore())

	c, _, _ := newActiveClient(t, WithSnapshots(snaps))
	c.HandleMessage(frame(t, map[string]any{"type": "session_created", "status": "success", "session_id": "s1", "user_id": 42}))
	c.HandleMessage(frame(t, map[string]any{
		"type": "sidebar_history", "status": "success",
		"conversations": []map[string]any{{"id": "c1", "title": "One"}},
	}))
	require.NoError(t, c.OpenConversation("c1"))
	require.NoError(t, c.SendUserMessage("remember me", "c1"))
	c.HandleMessage(frame(t, map[string]any{"type": "stream_chunk", "chunk": "ok"}))
	c.HandleClose()

	restored := NewClient("tok", 42, WithLogger(quietLogger()), WithSnapshots(snaps))
	require.NoError(t, restored.Restore(ctx))

	assert.Equal(t, "s1", restored.Handle().SessionID)
	assert.Equal(t, "c1", restored.Store().ActiveConversationID())
	assert.Len(t, restored.Store().Sidebar(), 1)

	msgs := restored.Store().Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "remember me", msgs[0].Text)
	assert.Equal(t, "ok", msgs[1].Text)
	for _, m := range msgs {
		assert.False(t, m.IsStreaming)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closed", StateClosed.String())
}

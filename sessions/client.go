package sessions

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/davidakpele/chatengine/conversation"
	"github.com/davidakpele/chatengine/models"
	"github.com/davidakpele/chatengine/stores"
)

// Client owns one chat session with the assistant peer. It turns transport
// events into conversation state and user intents into outbound envelopes.
//
// Transport callbacks, intents and timer callbacks all run under one mutex.
// Store subscribers are notified while it is held and must not call back into
// the Client synchronously.
type Client struct {
	mu        sync.Mutex
	state     State
	transport Transport
	done      chan struct{}

	token  string
	userID uint64
	handle models.SessionHandle

	store     *conversation.Store
	acc       *conversation.Accumulator
	snapshots *stores.Snapshots
	Logger    *log.Logger

	timeout   time.Duration
	afterFunc AfterFunc
	seq       uint64
	timerGen  uint64
	timer     Stopper
}

type Option func(*Client)

func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

func WithStore(store *conversation.Store) Option {
	return func(c *Client) {
		if store != nil {
			c.store = store
		}
	}
}

// WithSnapshots persists session, transcript and sidebar at stable points.
func WithSnapshots(snapshots *stores.Snapshots) Option {
	return func(c *Client) { c.snapshots = snapshots }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithAfterFunc(fn AfterFunc) Option {
	return func(c *Client) {
		if fn != nil {
			c.afterFunc = fn
		}
	}
}

// NewClient creates a client in the Connecting state.
func NewClient(token string, userID uint64, opts ...Option) *Client {
	c := &Client{
		state:     StateConnecting,
		done:      make(chan struct{}),
		token:     token,
		userID:    userID,
		handle:    models.SessionHandle{UserID: userID, CreatedAt: time.Now()},
		Logger:    log.New(os.Stdout, fmt.Sprintf("[WS %d] ", userID), log.LstdFlags),
		timeout:   DefaultRequestTimeout,
		afterFunc: SystemAfterFunc,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = conversation.NewStore()
	}
	c.acc = conversation.NewAccumulator(c.store)
	return c
}

func (c *Client) Store() *conversation.Store { return c.store }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Handle() models.SessionHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.handle
	h.ActiveConversationID = c.store.ActiveConversationID()
	return h
}

// Done is closed when the client reaches the Closed state.
func (c *Client) Done() <-chan struct{} { return c.done }

// Attach hands the client the transport it will write to.
func (c *Client) Attach(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
}

// Restore loads the persisted session, transcript and sidebar into the store.
// It is meant to run before the transport opens.
func (c *Client) Restore(ctx context.Context) error {
	if c.snapshots == nil {
		return nil
	}
	handle, ok, err := c.snapshots.LoadSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	msgs, err := c.snapshots.LoadMessages(ctx)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}
	sidebar, err := c.snapshots.LoadSidebar(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sidebar: %w", err)
	}

	if issues := stores.DetectCorruptedTranscript(msgs); len(issues) > 0 {
		c.Logger.Printf("Repairing cached transcript: %s", strings.Join(issues, "; "))
	}
	msgs = stores.SanitizeTranscript(msgs)

	c.mu.Lock()
	defer c.mu.Unlock()
	activeID := ""
	if ok && handle.UserID == c.userID {
		activeID = handle.ActiveConversationID
		c.handle.SessionID = handle.SessionID
		c.handle.CreatedAt = handle.CreatedAt
	}
	c.store.Restore(msgs, sidebar, activeID)
	c.Logger.Printf("Restored %d messages and %d conversations", len(msgs), len(sidebar))
	return nil
}

// --- transport events ---

// HandleOpen announces the session to the peer and asks for the sidebar.
func (c *Client) HandleOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting || c.transport == nil {
		return
	}
	c.Logger.Printf("WebSocket connected")

	for _, env := range []any{
		models.NewStartConnection(c.token),
		models.NewFetchSidebarHistory(c.userID),
	} {
		if err := c.transport.WriteJSON(env); err != nil {
			c.Logger.Printf("Handshake write failed: %v", err)
			c.closeLocked(&TransportError{Op: "open", Err: err})
			return
		}
	}
	c.state = StateActive
}

// HandleMessage decodes one inbound frame and applies its effect.
func (c *Client) HandleMessage(data []byte) {
	env, err := models.DecodeInbound(data)
	if err != nil {
		c.Logger.Printf("Dropping frame: %v", &MalformedEnvelopeError{Frame: data, Err: err})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		c.Logger.Printf("Ignoring %s envelope while %s", env.EnvelopeType(), c.state)
		return
	}
	c.dispatchLocked(env)
}

// HandleError closes the session after a transport failure.
func (c *Client) HandleError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Logger.Printf("WebSocket error: %v", err)
	c.closeLocked(&TransportError{Op: "read", Err: err})
}

// HandleClose closes the session after the transport went away.
func (c *Client) HandleClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(nil)
}

// closeLocked moves to Closed. An in-flight request fails with an assistant
// message and a partially streamed answer is kept, frozen.
func (c *Client) closeLocked(cause error) {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.cancelTimerLocked()
	c.acc.Abort()
	if c.store.Loading() {
		c.store.AddErrorMessage(msgConnectionLost)
		c.store.SetLoading(false)
	}
	c.persistMessagesLocked()
	close(c.done)

	if cause != nil {
		c.Logger.Printf("WebSocket connection closed: %v", cause)
	} else {
		c.Logger.Printf("WebSocket connection closed")
	}
}

// --- dispatch ---

func (c *Client) dispatchLocked(env models.Inbound) {
	switch e := env.(type) {
	case models.SessionCreated:
		c.onSessionCreated(e)
	case models.UserMessageEcho:
		c.onUserMessage(e)
	case models.StreamChunk:
		c.onStreamChunk(e)
	case models.StreamEnd:
		c.onStreamEnd(e)
	case models.AIResponse:
		c.onAIResponse(e)
	case models.SidebarHistory:
		c.onSidebarHistory(e)
	case models.ConversationHistory:
		c.replaceTranscript(e.Messages)
	case models.AllMessages:
		c.replaceTranscript(e.Messages)
	case models.ContentTitleEdited:
		c.Logger.Printf("Conversation renamed to %q", e.Title)
		c.refreshSidebarLocked()
	case models.Deleted:
		c.onDeleted(e)
	case models.Disconnected:
		c.closeLocked(nil)
	case models.ErrorEnvelope:
		c.onPeerError(e)
	default:
		c.Logger.Printf("Unknown message type: %s", env.EnvelopeType())
	}
}

func (c *Client) onSessionCreated(e models.SessionCreated) {
	c.handle.SessionID = e.SessionID
	if e.UserID != 0 {
		c.handle.UserID = e.UserID
	}
	c.handle.CreatedAt = time.Now()
	c.Logger.Printf("Session created: %s", e.SessionID)
	c.persistSessionLocked()
}

func (c *Client) onUserMessage(e models.UserMessageEcho) {
	c.store.ConfirmUserMessage(e.Prompt, e.MessageID)
	if e.ConversationID != "" {
		c.store.SetActiveConversation(e.ConversationID)
		if !c.store.HasConversation(e.ConversationID) {
			c.refreshSidebarLocked()
		}
		c.persistSessionLocked()
	}
	c.persistMessagesLocked()
}

func (c *Client) onStreamChunk(e models.StreamChunk) {
	if !c.acc.Append(e.Chunk) {
		return
	}
	// Progress keeps the request alive.
	if c.timer != nil {
		c.rearmTimerLocked()
	}
}

func (c *Client) onStreamEnd(e models.StreamEnd) {
	c.cancelTimerLocked()
	if e.Succeeded() {
		c.acc.Complete()
	} else {
		c.acc.Abort()
		c.Logger.Printf("Stream ended with status %q", e.Status)
	}
	c.store.SetLoading(false)

	if e.Succeeded() && e.ConversationID != "" {
		c.store.SetActiveConversation(e.ConversationID)
		c.persistSessionLocked()
		c.refreshSidebarLocked()
	}
	c.persistMessagesLocked()
}

func (c *Client) onAIResponse(e models.AIResponse) {
	c.cancelTimerLocked()
	c.acc.Abort()
	c.store.AppendMessage(models.NewAssistantMessage(e.Response))
	c.store.SetLoading(false)
	c.persistMessagesLocked()
}

func (c *Client) onSidebarHistory(e models.SidebarHistory) {
	c.store.ReplaceSidebar(e.Conversations)
	c.persistSidebarLocked()
	c.persistSessionLocked()
}

func (c *Client) replaceTranscript(entries []models.TranscriptEntry) {
	msgs := make([]models.Message, 0, len(entries))
	for _, entry := range entries {
		msgs = append(msgs, entry.Message())
	}
	c.store.ReplaceMessages(msgs)
	c.persistMessagesLocked()
}

func (c *Client) onDeleted(e models.Deleted) {
	c.store.RemoveMessage(e.TargetID)
	if strings.Contains(e.DeletedType, "conversation") && e.TargetID == c.store.ActiveConversationID() {
		c.store.ClearMessages()
		c.store.SetActiveConversation("")
		c.persistSessionLocked()
	}
	c.persistMessagesLocked()
	c.refreshSidebarLocked()
}

func (c *Client) onPeerError(e models.ErrorEnvelope) {
	perr := &ProtocolError{Status: e.Status, Message: e.Error, Code: e.Code}
	c.Logger.Printf("Received error from peer: %v", perr)

	c.cancelTimerLocked()
	c.acc.Abort()
	text := e.Error
	if text == "" {
		text = msgPeerErrorDflt
	}
	c.store.AddErrorMessage("Error: " + text)
	c.store.SetLoading(false)
	c.persistMessagesLocked()
}

// --- intents ---

// Send sends text in the active conversation.
func (c *Client) Send(text string) error {
	return c.SendUserMessage(text, c.store.ActiveConversationID())
}

// SendUserMessage asks the assistant to answer text inside conversation
// sessionID, empty for a new conversation.
func (c *Client) SendUserMessage(text, sessionID string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyPrompt
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeLocked() {
		c.store.AddErrorMessage(msgUnableToSend)
		c.Logger.Printf("WebSocket is not connected")
		return &TransportError{Op: "send message", Err: ErrNotConnected}
	}

	c.acc.Abort()
	c.store.AppendMessage(models.NewUserMessage(text))
	if err := c.transport.WriteJSON(models.NewAIRequest(text, sessionID)); err != nil {
		c.Logger.Printf("Error sending message: %v", err)
		c.cancelTimerLocked()
		c.store.AddErrorMessage(msgFailedToSend)
		c.store.SetLoading(false)
		c.persistMessagesLocked()
		return &TransportError{Op: "send message", Err: err}
	}
	c.store.SetLoading(true)
	c.armTimerLocked()
	c.persistMessagesLocked()
	return nil
}

// StartNewConversation resets the peer session and shows an empty chat.
func (c *Client) StartNewConversation() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeLocked("start new conversation",
		models.NewStartNewSession(c.token, c.userID),
		models.NewFetchSidebarHistory(c.userID),
	); err != nil {
		return err
	}

	c.cancelTimerLocked()
	c.acc.Abort()
	c.store.SetLoading(false)
	c.store.ClearMessages()
	c.store.SetActiveConversation("")
	c.persistSessionLocked()
	c.persistMessagesLocked()
	return nil
}

// OpenConversation loads the transcript of id and makes it active.
func (c *Client) OpenConversation(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeLocked("open conversation",
		models.NewFetchConversation(id),
		models.NewFetchSidebarHistory(c.userID),
	); err != nil {
		return err
	}
	// A reply still in flight belongs to the conversation being left.
	c.cancelTimerLocked()
	c.acc.Abort()
	c.store.SetLoading(false)
	c.store.SetActiveConversation(id)
	c.persistSessionLocked()
	c.persistMessagesLocked()
	return nil
}

// RenameConversation asks the peer to retitle id. The sidebar is refreshed when
// the peer acknowledges.
func (c *Client) RenameConversation(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked("rename conversation", models.NewEditContent(id, title))
}

func (c *Client) DeleteConversation(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked("delete conversation", models.NewDeleteContent(id))
}

func (c *Client) DeleteMessage(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked("delete message", models.NewDeleteMessage(id))
}

func (c *Client) FetchAllMessages() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked("fetch all messages", models.NewFetchAllMessages())
}

// RefreshSidebar asks for the conversation list of the current user.
func (c *Client) RefreshSidebar() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked("refresh sidebar", models.NewFetchSidebarHistory(c.userID))
}

// Disconnect tells the peer the session is over and closes the transport.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeLocked() {
		c.shutdownLocked()
		return &TransportError{Op: "disconnect", Err: ErrNotConnected}
	}
	var err error
	if werr := c.transport.WriteJSON(models.NewDisconnect(c.handle.SessionID, c.userID)); werr != nil {
		err = &TransportError{Op: "disconnect", Err: werr}
	}
	if cerr := c.shutdownLocked(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close transport: %w", cerr)
	}
	return err
}

// Close closes the transport without notifying the peer.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownLocked()
}

func (c *Client) shutdownLocked() error {
	c.closeLocked(nil)
	if c.transport == nil {
		return nil
	}
	return c.transport.Close()
}

func (c *Client) activeLocked() bool {
	return c.state == StateActive && c.transport != nil
}

// writeLocked writes envelopes in order. Failures surface as an assistant
// message and a TransportError.
func (c *Client) writeLocked(op string, envelopes ...any) error {
	if !c.activeLocked() {
		c.store.AddErrorMessage(msgUnableToSend)
		return &TransportError{Op: op, Err: ErrNotConnected}
	}
	for _, env := range envelopes {
		if err := c.transport.WriteJSON(env); err != nil {
			c.Logger.Printf("Error during %s: %v", op, err)
			c.store.AddErrorMessage(msgFailedToSend)
			return &TransportError{Op: op, Err: err}
		}
	}
	return nil
}

func (c *Client) refreshSidebarLocked() {
	if !c.activeLocked() {
		return
	}
	if err := c.transport.WriteJSON(models.NewFetchSidebarHistory(c.userID)); err != nil {
		c.Logger.Printf("Error requesting sidebar: %v", err)
	}
}

// --- request timeout ---

func (c *Client) armTimerLocked() {
	c.cancelTimerLocked()
	c.seq++
	c.startTimerLocked(c.seq)
}

func (c *Client) rearmTimerLocked() {
	c.timer.Stop()
	c.startTimerLocked(c.seq)
}

// startTimerLocked arms a timer for request seq. Every timer gets its own
// generation, so one replaced by a re-arm is stale even though seq matches.
func (c *Client) startTimerLocked(seq uint64) {
	c.timerGen++
	gen := c.timerGen
	c.timer = c.afterFunc(c.timeout, func() { c.handleTimeout(seq, gen) })
}

func (c *Client) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// handleTimeout fires for request seq. A timer that belongs to an older request,
// was replaced by a re-arm, or was cancelled after firing does nothing.
func (c *Client) handleTimeout(seq, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq || gen != c.timerGen || c.timer == nil || c.state != StateActive {
		return
	}
	c.timer = nil
	if !c.store.Loading() {
		return
	}
	c.Logger.Printf("%v", &StaleTimeoutError{Seq: seq, Timeout: c.timeout.String()})
	c.acc.Abort()
	c.store.SetLoading(false)
	c.store.AddErrorMessage(msgTimedOut)
	c.persistMessagesLocked()
}

// --- persistence ---

func (c *Client) persistSessionLocked() {
	if c.snapshots == nil {
		return
	}
	h := c.handle
	h.ActiveConversationID = c.store.ActiveConversationID()
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.snapshots.SaveSession(ctx, h); err != nil {
		c.Logger.Printf("Error saving session: %v", err)
	}
}

// persistMessagesLocked runs at stable points only, never per chunk.
func (c *Client) persistMessagesLocked() {
	if c.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.snapshots.SaveMessages(ctx, c.store.Messages()); err != nil {
		c.Logger.Printf("Error saving messages: %v", err)
	}
}

func (c *Client) persistSidebarLocked() {
	if c.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.snapshots.SaveSidebar(ctx, c.store.Sidebar()); err != nil {
		c.Logger.Printf("Error saving sidebar: %v", err)
	}
}

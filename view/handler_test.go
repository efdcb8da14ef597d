package view

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidakpele/chatengine/conversation"
	"github.com/davidakpele/chatengine/markdown"
	"github.com/davidakpele/chatengine/models"
	"github.com/davidakpele/chatengine/sessions"
)

type fakeBackend struct {
	store *conversation.Store
	state sessions.State
	calls []string
	err   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{store: conversation.NewStore(), state: sessions.StateActive}
}

func (f *fakeBackend) Store() *conversation.Store { return f.store }
func (f *fakeBackend) State() sessions.State      { return f.state }

func (f *fakeBackend) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeBackend) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return sessions.ErrEmptyPrompt
	}
	if err := f.record("send:" + text); err != nil {
		return err
	}
	f.store.AppendMessage(models.NewUserMessage(text))
	return nil
}

func (f *fakeBackend) StartNewConversation() error { return f.record("new") }
func (f *fakeBackend) OpenConversation(id string) error {
	return f.record("open:" + id)
}
func (f *fakeBackend) RenameConversation(id, title string) error {
	if strings.TrimSpace(title) == "" {
		return sessions.ErrEmptyTitle
	}
	return f.record("rename:" + id + ":" + title)
}
func (f *fakeBackend) DeleteConversation(id string) error { return f.record("delete:" + id) }
func (f *fakeBackend) DeleteMessage(id string) error      { return f.record("delete_message:" + id) }
func (f *fakeBackend) RefreshSidebar() error              { return f.record("refresh") }

func newTestRouter(t *testing.T, backend Backend) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewHandler(backend, markdown.New(), 10, log.New(io.Discard, "", 0))
	return NewRouter(h)
}

func doJSONRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) StateView {
	t.Helper()
	var v StateView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestGetStateRendersAssistantMarkdown(t *testing.T) {
	backend := newFakeBackend()
	user := models.NewUserMessage("<b>hi</b>\nthere")
	reply := models.NewAssistantMessage("Use `x`:\n\n```go\nfmt.Println(1)\n```")
	backend.store.AppendMessage(user)
	backend.store.AppendMessage(reply)
	backend.store.ReplaceSidebar([]models.ConversationSummary{
		{ID: "c1", Title: "A rather long conversation title"},
		{ID: "c2", Title: ""},
	})
	backend.store.SetActiveConversation("c1")
	router := newTestRouter(t, backend)

	rec := doJSONRequest(t, router, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeState(t, rec)

	assert.Equal(t, "active", v.Connection)
	require.Len(t, v.Messages, 2)
	assert.Equal(t, "&lt;b&gt;hi&lt;/b&gt;<br>there", v.Messages[0].HTML)
	assert.Contains(t, v.Messages[1].HTML, `<code class="inline-code">x</code>`)
	require.Len(t, v.Messages[1].CodeBlocks, 1)
	assert.Equal(t, "code-"+reply.ID+"-0", v.Messages[1].CodeBlocks[0].ID)
	assert.Equal(t, "fmt.Println(1)", v.Messages[1].CodeBlocks[0].Code)

	require.Len(t, v.Sidebar, 2)
	assert.True(t, v.Sidebar[0].Active)
	assert.Equal(t, "A rather long conversation title", v.Sidebar[0].Title)
	assert.True(t, strings.HasSuffix(v.Sidebar[0].Label, "..."))
	assert.Equal(t, "New Chat", v.Sidebar[1].Label)
	assert.Equal(t, "c1", v.ActiveConversationID)
}

func TestSendMessage(t *testing.T) {
	backend := newFakeBackend()
	router := newTestRouter(t, backend)

	rec := doJSONRequest(t, router, http.MethodPost, "/api/messages", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	v := decodeState(t, rec)
	require.Len(t, v.Messages, 1)
	assert.Equal(t, "hello", v.Messages[0].Text)
	assert.Equal(t, []string{"send:hello"}, backend.calls)

	rec = doJSONRequest(t, router, http.MethodPost, "/api/messages", map[string]string{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader("{"))
	bad := httptest.NewRecorder()
	router.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestConversationIntents(t *testing.T) {
	backend := newFakeBackend()
	router := newTestRouter(t, backend)

	assert.Equal(t, http.StatusAccepted, doJSONRequest(t, router, http.MethodPost, "/api/conversations", nil).Code)
	assert.Equal(t, http.StatusAccepted, doJSONRequest(t, router, http.MethodPost, "/api/conversations/c7/open", nil).Code)
	assert.Equal(t, http.StatusAccepted, doJSONRequest(t, router, http.MethodPatch, "/api/conversations/c7", map[string]string{"title": "Renamed"}).Code)
	assert.Equal(t, http.StatusBadRequest, doJSONRequest(t, router, http.MethodPatch, "/api/conversations/c7", map[string]string{"title": ""}).Code)
	assert.Equal(t, http.StatusAccepted, doJSONRequest(t, router, http.MethodDelete, "/api/conversations/c7", nil).Code)
	assert.Equal(t, http.StatusAccepted, doJSONRequest(t, router, http.MethodDelete, "/api/messages/m3", nil).Code)

	assert.Equal(t, []string{"new", "open:c7", "rename:c7:Renamed", "delete:c7", "delete_message:m3"}, backend.calls)
}

func TestRefreshSidebarRoute(t *testing.T) {
	backend := newFakeBackend()
	router := newTestRouter(t, backend)

	rec := doJSONRequest(t, router, http.MethodPost, "/api/conversations/refresh", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	// The static segment must not be taken for a conversation id.
	assert.Equal(t, http.StatusAccepted, doJSONRequest(t, router, http.MethodPost, "/api/conversations/refresh/open", nil).Code)
	assert.Equal(t, []string{"refresh", "open:refresh"}, backend.calls)

	backend.err = &sessions.TransportError{Op: "fetch sidebar history", Err: sessions.ErrNotConnected}
	rec = doJSONRequest(t, router, http.MethodPost, "/api/conversations/refresh", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIntentErrorsMapToStatus(t *testing.T) {
	backend := newFakeBackend()
	router := newTestRouter(t, backend)

	backend.err = &sessions.TransportError{Op: "open conversation", Err: sessions.ErrNotConnected}
	rec := doJSONRequest(t, router, http.MethodPost, "/api/conversations/c1/open", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	backend.err = &sessions.TransportError{Op: "open conversation", Err: io.ErrClosedPipe}
	rec = doJSONRequest(t, router, http.MethodPost, "/api/conversations/c1/open", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "open conversation")
}

func TestStylesheet(t *testing.T) {
	router := newTestRouter(t, newFakeBackend())
	rec := doJSONRequest(t, router, http.MethodGet, "/markdown.css", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
	assert.Contains(t, rec.Body.String(), ".ai-response")
}

func TestEventStreamFollowsStore(t *testing.T) {
	backend := newFakeBackend()
	server := httptest.NewServer(newTestRouter(t, backend))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := make(chan StateView, 8)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var v StateView
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &v) == nil {
				events <- v
			}
		}
		close(events)
	}()

	first := <-events
	assert.Empty(t, first.Messages)

	backend.store.AppendMessage(models.NewAssistantMessage("**done**"))
	for {
		select {
		case v, ok := <-events:
			require.True(t, ok, "stream ended early")
			if len(v.Messages) == 1 {
				assert.Contains(t, v.Messages[0].HTML, "<strong>done</strong>")
				return
			}
		case <-ctx.Done():
			t.Fatal("no state event after store change")
		}
	}
}

package chatengine

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidakpele/chatengine/credentials"
	"github.com/davidakpele/chatengine/models"
	"github.com/davidakpele/chatengine/sessions"
	"github.com/davidakpele/chatengine/view"
)

// newAssistantPeer serves the chat socket and the account service from one
// gin engine.
func newAssistantPeer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	router.GET(sessions.ChatPath, func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg["type"] {
			case models.TypeStartConnection:
				_ = conn.WriteJSON(gin.H{"type": "session_created", "status": "success", "session_id": "s-9", "user_id": 5})
			case models.TypeFetchSidebarHistory:
				_ = conn.WriteJSON(gin.H{"type": "sidebar_history", "status": "success", "conversations": []gin.H{{"id": "c1", "title": "First"}}})
			case models.TypeAIRequest:
				_ = conn.WriteJSON(gin.H{"type": "user_message", "user_id": 5, "conversation_id": "c1", "conversation_title": "First", "prompt": msg["prompt"], "message_id": "m-user"})
				_ = conn.WriteJSON(gin.H{"type": "stream_chunk", "chunk": "# Hi\n"})
				_ = conn.WriteJSON(gin.H{"type": "stream_chunk", "chunk": "1. one\n2. two"})
				_ = conn.WriteJSON(gin.H{"type": "stream_end", "status": "success", "user_id": 5, "conversation_id": "c1", "conversation_title": "First"})
			case models.TypeDisconnect:
				_ = conn.WriteJSON(gin.H{"type": "disconnected", "status": "success"})
				return
			}
		}
	})

	router.POST("/auth/login", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"token": "jwt", "id": 5, "email": "e@example.com", "username": "eve"})
	})
	return httptest.NewServer(router)
}

func quietOption() sessions.Option {
	return sessions.WithLogger(log.New(io.Discard, "", 0))
}

func TestNewEngineRequiresIdentity(t *testing.T) {
	_, err := NewEngine(context.Background(), NewConfig())
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestEngineEndToEnd(t *testing.T) {
	peer := newAssistantPeer(t)
	defer peer.Close()
	ctx := context.Background()

	cfg := NewConfig().
		WithEndpoint("ws" + strings.TrimPrefix(peer.URL, "http")).
		WithAuthURL(peer.URL).
		WithSQLiteStore(filepath.Join(t.TempDir(), "engine.sqlite"))

	snapshots, err := OpenSnapshots(cfg)
	require.NoError(t, err)
	id, err := Login(ctx, cfg, snapshots, credentials.LoginRequest{Email: "e@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "jwt", id.Token)
	require.NoError(t, snapshots.Backend().Close())

	engine, err := NewEngine(ctx, cfg, quietOption())
	require.NoError(t, err)
	engine.Logger.SetOutput(io.Discard)
	require.NoError(t, engine.Start(ctx))
	assert.Equal(t, uint64(5), engine.Client.Handle().UserID)

	require.Eventually(t, func() bool {
		return engine.Client.Handle().SessionID == "s-9" && len(engine.Client.Store().Sidebar()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	router := view.NewRouter(engine.Handler())
	body := strings.NewReader(`{"text":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		st := engine.Client.Store().Snapshot()
		return len(st.Messages) == 2 && !st.Loading && !st.Messages[1].IsStreaming
	}, 2*time.Second, 10*time.Millisecond)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	var state view.StateView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "m-user", state.Messages[0].ID)
	assert.Contains(t, state.Messages[1].HTML, "<h1>Hi</h1>")
	assert.Contains(t, state.Messages[1].HTML, "<ol>")
	assert.Equal(t, "c1", state.ActiveConversationID)

	require.NoError(t, engine.Close())
	select {
	case <-engine.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}

	// A second engine on the same store resumes the cached conversation.
	again, err := NewEngine(ctx, cfg, quietOption())
	require.NoError(t, err)
	defer again.backend.Close()
	require.NoError(t, again.Client.Restore(ctx))
	msgs := again.Client.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, "c1", again.Client.Store().ActiveConversationID())
}

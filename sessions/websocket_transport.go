package sessions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultEndpoint is the chat socket of a locally running assistant.
const DefaultEndpoint = "ws://localhost:9001/ws/chat"

// ChatPath is the fixed path of the chat socket.
const ChatPath = "/ws/chat"

// DialConfig describes how to reach the chat socket.
type DialConfig struct {
	// Endpoint is the socket URL or its base, e.g. "ws://host:9001". A missing
	// path is completed with ChatPath.
	Endpoint         string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// BuildURL normalizes an endpoint into the chat socket URL. http and https
// schemes are mapped to ws and wss.
func BuildURL(endpoint string) (string, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	if u.Path == "" {
		u.Path = ChatPath
	}
	return u.String(), nil
}

// WebSocketTransport is a Transport over a gorilla websocket connection.
// Writes are serialized and bounded by a write deadline.
type WebSocketTransport struct {
	Conn         *websocket.Conn
	Logger       *log.Logger
	WriteTimeout time.Duration

	mu     sync.Mutex
	once   sync.Once
	closed chan struct{}
}

func NewWebSocketTransport(conn *websocket.Conn, logger *log.Logger, writeTimeout time.Duration) *WebSocketTransport {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WebSocketTransport{
		Conn:         conn,
		Logger:       logger,
		WriteTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// DialWebSocket opens the chat socket.
func DialWebSocket(ctx context.Context, cfg DialConfig, logger *log.Logger) (*WebSocketTransport, error) {
	u, err := BuildURL(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := websocket.Dialer{
		HandshakeTimeout: timeout,
	}
	conn, _, err := d.DialContext(ctx, u, cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u, err)
	}
	return NewWebSocketTransport(conn, logger, cfg.WriteTimeout), nil
}

func (t *WebSocketTransport) WriteJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closed:
		return ErrNotConnected
	default:
	}
	if err := t.Conn.SetWriteDeadline(time.Now().Add(t.WriteTimeout)); err != nil {
		return err
	}
	return t.Conn.WriteJSON(v)
}

// Close sends a close frame and closes the connection. It is safe to call more
// than once.
func (t *WebSocketTransport) Close() error {
	var err error
	t.once.Do(func() {
		t.mu.Lock()
		close(t.closed)
		_ = t.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
			time.Now().Add(250*time.Millisecond))
		t.mu.Unlock()
		err = t.Conn.Close()
	})
	return err
}

// Serve reads frames until the connection ends and hands them to h. A normal
// close, or a close initiated through Close, is reported with HandleClose;
// anything else with HandleError. Cancelling ctx closes the connection.
func (t *WebSocketTransport) Serve(ctx context.Context, h EventHandler) {
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	for {
		msgType, data, err := t.Conn.ReadMessage()
		if err != nil {
			if t.closedLocally() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.HandleClose()
			} else {
				h.HandleError(err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			if t.Logger != nil {
				t.Logger.Printf("Ignoring non-text frame (type %d)", msgType)
			}
			continue
		}
		h.HandleMessage(data)
	}
}

func (t *WebSocketTransport) closedLocally() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Connect dials the chat socket, opens the session and starts reading in the
// background. Transport loss moves the client to Closed; there is no reconnect.
func (c *Client) Connect(ctx context.Context, cfg DialConfig) error {
	t, err := DialWebSocket(ctx, cfg, c.Logger)
	if err != nil {
		c.HandleError(err)
		return &TransportError{Op: "connect", Err: err}
	}
	c.Attach(t)
	c.HandleOpen()
	if c.State() != StateActive {
		_ = t.Close()
		return &TransportError{Op: "connect", Err: errors.New("handshake failed")}
	}
	go t.Serve(ctx, c)
	return nil
}

// Package chatengine assembles the streaming conversation engine: the session
// client, its conversation store, snapshot persistence and the markdown
// renderer, configured from a single Config.
package chatengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/davidakpele/chatengine/credentials"
	"github.com/davidakpele/chatengine/markdown"
	"github.com/davidakpele/chatengine/models"
	"github.com/davidakpele/chatengine/sessions"
	"github.com/davidakpele/chatengine/stores"
	"github.com/davidakpele/chatengine/view"
)

// ErrNoIdentity is returned when neither the config nor the snapshot store
// holds a token to open a session with.
var ErrNoIdentity = errors.New("no identity: log in first")

// Engine owns one chat session and everything it needs.
type Engine struct {
	Config    *Config
	Client    *sessions.Client
	Renderer  *markdown.Renderer
	Snapshots *stores.Snapshots
	Logger    *log.Logger

	backend stores.SnapshotStore
}

// OpenSnapshots opens the configured stores. With none configured the
// snapshots live in memory.
func OpenSnapshots(cfg *Config) (*stores.Snapshots, error) {
	backend, err := stores.NewStores(cfg.Stores...)
	if err != nil {
		return nil, err
	}
	return stores.NewSnapshots(backend), nil
}

// NewEngine opens the snapshot stores and builds a client for the configured
// identity, falling back to the identity saved by the last login.
func NewEngine(ctx context.Context, cfg *Config, opts ...sessions.Option) (*Engine, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	snapshots, err := OpenSnapshots(cfg)
	if err != nil {
		return nil, err
	}

	token, userID := cfg.Token, cfg.UserID
	if token == "" {
		id, ok, err := snapshots.LoadIdentity(ctx)
		if err != nil {
			_ = snapshots.Backend().Close()
			return nil, fmt.Errorf("failed to load identity: %w", err)
		}
		if !ok || !id.Valid() {
			_ = snapshots.Backend().Close()
			return nil, ErrNoIdentity
		}
		token, userID = id.Token, id.UserID
	}

	logger := log.New(os.Stdout, fmt.Sprintf("[ENGINE %d] ", userID), log.LstdFlags)
	clientOpts := []sessions.Option{
		sessions.WithSnapshots(snapshots),
		sessions.WithRequestTimeout(cfg.RequestTimeout),
	}
	client := sessions.NewClient(token, userID, append(clientOpts, opts...)...)

	return &Engine{
		Config:    cfg,
		Client:    client,
		Renderer:  markdown.New(cfg.RendererOptions()...),
		Snapshots: snapshots,
		Logger:    logger,
		backend:   snapshots.Backend(),
	}, nil
}

// Start restores the cached transcript and connects. A failed restore is
// logged and does not stop the connection.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Client.Restore(ctx); err != nil {
		e.Logger.Printf("Failed to restore snapshot: %v", err)
	}
	return e.Client.Connect(ctx, sessions.DialConfig{Endpoint: e.Config.Endpoint})
}

// Done is closed when the session has ended.
func (e *Engine) Done() <-chan struct{} { return e.Client.Done() }

// Handler returns the HTTP view bound to this engine.
func (e *Engine) Handler() *view.Handler {
	return view.NewHandler(e.Client, e.Renderer, e.Config.TitleLimit, e.Logger)
}

// Close ends the session, telling the peer when it is still connected, and
// closes the snapshot stores.
func (e *Engine) Close() error {
	var err error
	if e.Client.State() == sessions.StateActive {
		err = e.Client.Disconnect()
	} else {
		err = e.Client.Close()
	}
	return errors.Join(err, e.backend.Close())
}

// Login exchanges credentials with the account service and saves the identity
// so a later NewEngine can open the session without them.
func Login(ctx context.Context, cfg *Config, snapshots *stores.Snapshots, req credentials.LoginRequest) (models.Identity, error) {
	id, err := credentials.NewClient(cfg.AuthURL).Login(ctx, req)
	if err != nil {
		return id, err
	}
	if snapshots != nil {
		if err := snapshots.SaveIdentity(ctx, id); err != nil {
			return id, fmt.Errorf("failed to save identity: %w", err)
		}
	}
	return id, nil
}

// Logout forgets the saved identity and cached conversation.
func Logout(ctx context.Context, snapshots *stores.Snapshots) error {
	return snapshots.ClearAll(ctx)
}

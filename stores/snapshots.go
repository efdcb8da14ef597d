package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/davidakpele/chatengine/models"
)

// Snapshot keys.
const (
	KeySession  = "session"
	KeyMessages = "chatMessages"
	KeySidebar  = "sidebarHistory"
	KeyToken    = "token"
	KeyUserID   = "id"
	KeyUsername = "username"
	KeyEmail    = "email"
)

// Snapshots reads and writes typed chat state through a SnapshotStore.
type Snapshots struct {
	store SnapshotStore
}

func NewSnapshots(store SnapshotStore) *Snapshots {
	return &Snapshots{store: store}
}

// Backend returns the underlying store.
func (s *Snapshots) Backend() SnapshotStore { return s.store }

func (s *Snapshots) SaveSession(ctx context.Context, h models.SessionHandle) error {
	return s.store.Store(ctx, map[string]any{KeySession: h})
}

// LoadSession returns the stored handle; ok is false when none was stored.
func (s *Snapshots) LoadSession(ctx context.Context) (h models.SessionHandle, ok bool, err error) {
	ok, err = s.load(ctx, KeySession, &h)
	return h, ok, err
}

// UpdateActiveConversation rewrites only the active conversation of the stored handle.
func (s *Snapshots) UpdateActiveConversation(ctx context.Context, id string) error {
	h, ok, err := s.LoadSession(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no session stored")
	}
	h.ActiveConversationID = id
	return s.SaveSession(ctx, h)
}

func (s *Snapshots) SaveMessages(ctx context.Context, msgs []models.Message) error {
	if msgs == nil {
		msgs = []models.Message{}
	}
	return s.store.Store(ctx, map[string]any{KeyMessages: msgs})
}

func (s *Snapshots) LoadMessages(ctx context.Context) ([]models.Message, error) {
	var msgs []models.Message
	_, err := s.load(ctx, KeyMessages, &msgs)
	return msgs, err
}

func (s *Snapshots) SaveSidebar(ctx context.Context, list []models.ConversationSummary) error {
	if list == nil {
		list = []models.ConversationSummary{}
	}
	return s.store.Store(ctx, map[string]any{KeySidebar: list})
}

func (s *Snapshots) LoadSidebar(ctx context.Context) ([]models.ConversationSummary, error) {
	var list []models.ConversationSummary
	_, err := s.load(ctx, KeySidebar, &list)
	return list, err
}

// SaveIdentity stores the login result under the individual identity keys.
func (s *Snapshots) SaveIdentity(ctx context.Context, id models.Identity) error {
	return s.store.Store(ctx, map[string]any{
		KeyToken:    id.Token,
		KeyUserID:   id.UserID,
		KeyUsername: id.Username,
		KeyEmail:    id.Email,
	})
}

// LoadIdentity returns the stored identity; ok is false unless both token and
// user id are present.
func (s *Snapshots) LoadIdentity(ctx context.Context) (models.Identity, bool, error) {
	var id models.Identity
	raw, err := s.store.Get(ctx, KeyToken, KeyUserID, KeyUsername, KeyEmail)
	if err != nil {
		return id, false, err
	}
	fields := map[string]any{
		KeyToken:    &id.Token,
		KeyUserID:   &id.UserID,
		KeyUsername: &id.Username,
		KeyEmail:    &id.Email,
	}
	for key, dst := range fields {
		if v, ok := raw[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return id, false, fmt.Errorf("failed to decode %s: %w", key, err)
			}
		}
	}
	return id, id.Valid(), nil
}

// ClearConversation drops cached transcript, sidebar and session.
func (s *Snapshots) ClearConversation(ctx context.Context) error {
	return s.store.Clear(ctx, KeySession, KeyMessages, KeySidebar)
}

// ClearAll drops everything, identity included.
func (s *Snapshots) ClearAll(ctx context.Context) error {
	return s.store.ClearAll(ctx)
}

func (s *Snapshots) load(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	v, ok := raw[key]
	if !ok || string(v) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

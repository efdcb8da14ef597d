package stores

import (
	"context"
	"encoding/json"
	"errors"
)

// MirroredStore writes to every backing store and reads from all of them, the
// first store that holds a key winning. It lets a fast local store shadow a
// shared one.
type MirroredStore struct {
	stores []SnapshotStore
}

func NewMirroredStore(stores ...SnapshotStore) *MirroredStore {
	return &MirroredStore{stores: stores}
}

// Get merges results by priority. A store that fails is skipped as long as
// another one answers.
func (m *MirroredStore) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	var errs []error
	answered := false
	for i := len(m.stores) - 1; i >= 0; i-- {
		got, err := m.stores[i].Get(ctx, keys...)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		answered = true
		for k, v := range got {
			out[k] = v
		}
	}
	if !answered && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (m *MirroredStore) Store(ctx context.Context, data map[string]any) error {
	return m.each(func(s SnapshotStore) error { return s.Store(ctx, data) })
}

func (m *MirroredStore) Clear(ctx context.Context, keys ...string) error {
	return m.each(func(s SnapshotStore) error { return s.Clear(ctx, keys...) })
}

func (m *MirroredStore) ClearAll(ctx context.Context) error {
	return m.each(func(s SnapshotStore) error { return s.ClearAll(ctx) })
}

func (m *MirroredStore) Close() error {
	return m.each(func(s SnapshotStore) error { return s.Close() })
}

func (m *MirroredStore) Ping() error {
	return m.each(func(s SnapshotStore) error { return s.Ping() })
}

// each applies fn to every store and joins the failures.
func (m *MirroredStore) each(fn func(SnapshotStore) error) error {
	var errs []error
	for _, s := range m.stores {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

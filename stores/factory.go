package stores

import (
	"fmt"
	"strings"
)

// NewStore creates a new snapshot store based on the configuration
func NewStore(config *StoreConfig) (SnapshotStore, error) {
	if config == nil {
		return NewMemoryStore(), nil
	}
	t, err := ParseStoreType(config.Type)
	if err != nil {
		return nil, err
	}
	normalized := *config
	normalized.Type = t
	switch t {
	case TypeSQLite:
		return NewSQLiteStore(&normalized)
	case TypePostgres:
		return NewPostgresStore(&normalized)
	case TypeRedis:
		return NewRedisStore(&normalized)
	default:
		return NewMemoryStore(), nil
	}
}

// NewStores opens every configured store and mirrors them, first config first.
// Stores opened before a failure are closed again.
func NewStores(configs ...*StoreConfig) (SnapshotStore, error) {
	switch len(configs) {
	case 0:
		return NewMemoryStore(), nil
	case 1:
		return NewStore(configs[0])
	}
	opened := make([]SnapshotStore, 0, len(configs))
	for _, cfg := range configs {
		s, err := NewStore(cfg)
		if err != nil {
			for _, o := range opened {
				_ = o.Close()
			}
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Type, err)
		}
		opened = append(opened, s)
	}
	return NewMirroredStore(opened...), nil
}

// ParseStoreType validates a store type name.
func ParseStoreType(s string) (string, error) {
	switch t := strings.ToLower(strings.TrimSpace(s)); t {
	case "", TypeMemory:
		return TypeMemory, nil
	case TypeSQLite, TypePostgres, TypeRedis:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported store type: %s", s)
	}
}

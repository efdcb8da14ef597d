package stores

import (
	"context"
	"encoding/json"
	"time"
)

// Snapshot is one namespace's opaque key/value blob as it is kept in a database.
type Snapshot struct {
	ID        uint      `gorm:"primaryKey"`
	Namespace string    `gorm:"uniqueIndex;not null"`
	DataJSON  string    `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SnapshotStore persists a flat set of JSON values under string keys. Every
// store is scoped to one namespace.
type SnapshotStore interface {
	// Get returns the values stored under keys. Missing keys are absent from the
	// result. With no keys every stored value is returned.
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)
	// Store marshals and saves each value, replacing earlier values of the same key.
	Store(ctx context.Context, data map[string]any) error
	// Clear removes keys.
	Clear(ctx context.Context, keys ...string) error
	// ClearAll removes everything in the namespace.
	ClearAll(ctx context.Context) error

	// Connection management
	Close() error
	Ping() error
}

// DefaultNamespace is used when a store config sets none.
const DefaultNamespace = "chatengine"

// Store types understood by NewStore.
const (
	TypeMemory   = "memory"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeRedis    = "redis"
)

// StoreConfig holds configuration for snapshot stores
type StoreConfig struct {
	Type       string            `json:"type" toml:"type"`             // "memory", "sqlite", "postgres", "redis"
	Connection string            `json:"connection" toml:"connection"` // path, DSN or redis URL
	Namespace  string            `json:"namespace" toml:"namespace"`
	Options    map[string]string `json:"options" toml:"options"` // additional options
}

// NewStoreConfig creates a new store configuration
func NewStoreConfig(storeType, connection string) *StoreConfig {
	return &StoreConfig{
		Type:       storeType,
		Connection: connection,
		Namespace:  DefaultNamespace,
		Options:    make(map[string]string),
	}
}

// WithOption adds an option to the store configuration
func (c *StoreConfig) WithOption(key, value string) *StoreConfig {
	if c.Options == nil {
		c.Options = make(map[string]string)
	}
	c.Options[key] = value
	return c
}

// WithNamespace scopes the store to namespace.
func (c *StoreConfig) WithNamespace(namespace string) *StoreConfig {
	c.Namespace = namespace
	return c
}

func (c *StoreConfig) namespace() string {
	if c.Namespace == "" {
		return DefaultNamespace
	}
	return c.Namespace
}

// encodeValues marshals every value of data.
func encodeValues(data map[string]any) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(data))
	for k, v := range data {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, &EncodeError{Key: k, Err: err}
		}
		out[k] = b
	}
	return out, nil
}

// pick returns the entries of all named by keys, or a copy of all when keys is empty.
func pick(all map[string]json.RawMessage, keys []string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	if len(keys) == 0 {
		for k, v := range all {
			out[k] = v
		}
		return out
	}
	for _, k := range keys {
		if v, ok := all[k]; ok {
			out[k] = v
		}
	}
	return out
}

// EncodeError reports a value that could not be marshalled.
type EncodeError struct {
	Key string
	Err error
}

func (e *EncodeError) Error() string {
	return "failed to marshal value for key " + e.Key + ": " + e.Err.Error()
}

func (e *EncodeError) Unwrap() error { return e.Err }

package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore keeps a namespace as one redis hash, one field per key. The "ttl"
// option (a Go duration) expires the hash after the last write.
type RedisStore struct {
	inner *redis.Client
	key   string
	ttl   time.Duration
}

// NewRedisStore connects to the redis URL in config.Connection, e.g.
// "redis://localhost:6379/0".
func NewRedisStore(config *StoreConfig) (*RedisStore, error) {
	if config.Type != TypeRedis {
		return nil, fmt.Errorf("invalid store type for Redis store: %s", config.Type)
	}
	conn := config.Connection
	if conn == "" {
		conn = "redis://127.0.0.1:6379/0"
	}
	opts, err := redis.ParseURL(conn)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	var ttl time.Duration
	if v, ok := config.Options["ttl"]; ok {
		if ttl, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("invalid ttl %q: %w", v, err)
		}
	}

	store := &RedisStore{
		inner: redis.NewClient(opts),
		key:   "snapshot:" + config.namespace(),
		ttl:   ttl,
	}
	if err := store.Ping(); err != nil {
		store.inner.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return store, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &RedisStore{inner: client, key: "snapshot:" + namespace}
}

func (s *RedisStore) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if s == nil || s.inner == nil {
		return nil, errors.New("redis client not initialized")
	}
	out := make(map[string]json.RawMessage)
	if len(keys) == 0 {
		all, err := s.inner.HGetAll(ctx, s.key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot: %w", err)
		}
		for k, v := range all {
			out[k] = json.RawMessage(v)
		}
		return out, nil
	}

	vals, err := s.inner.HMGet(ctx, s.key, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[keys[i]] = json.RawMessage(str)
		}
	}
	return out, nil
}

func (s *RedisStore) Store(ctx context.Context, data map[string]any) error {
	if s == nil || s.inner == nil {
		return errors.New("redis client not initialized")
	}
	if len(data) == 0 {
		return nil
	}
	encoded, err := encodeValues(data)
	if err != nil {
		return err
	}
	fields := make(map[string]any, len(encoded))
	for k, v := range encoded {
		fields[k] = string(v)
	}

	_, err = s.inner.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key, fields)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, keys ...string) error {
	if s == nil || s.inner == nil {
		return errors.New("redis client not initialized")
	}
	if len(keys) == 0 {
		return nil
	}
	return s.inner.HDel(ctx, s.key, keys...).Err()
}

func (s *RedisStore) ClearAll(ctx context.Context) error {
	if s == nil || s.inner == nil {
		return errors.New("redis client not initialized")
	}
	return s.inner.Del(ctx, s.key).Err()
}

// Close closes client.
func (s *RedisStore) Close() error {
	if s == nil || s.inner == nil {
		return nil
	}
	return s.inner.Close()
}

func (s *RedisStore) Ping() error {
	if s == nil || s.inner == nil {
		return errors.New("redis client not initialized")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.inner.Ping(ctx).Err()
}

package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// gormStore keeps a namespace as a single Snapshot row. SQLiteStore and
// PostgresStore differ only in how they open the database.
type gormStore struct {
	db        *gorm.DB
	namespace string
	mu        sync.Mutex
}

func (s *gormStore) migrate() error {
	if err := s.db.AutoMigrate(&Snapshot{}); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return nil
}

// load reads the namespace row. found is false when the namespace was never stored.
func (s *gormStore) load(tx *gorm.DB) (row Snapshot, data map[string]json.RawMessage, found bool, err error) {
	var rows []Snapshot
	if err = tx.Where("namespace = ?", s.namespace).Limit(1).Find(&rows).Error; err != nil {
		return row, nil, false, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	data = make(map[string]json.RawMessage)
	if len(rows) == 0 {
		return row, data, false, nil
	}
	row = rows[0]
	if row.DataJSON != "" {
		if err = json.Unmarshal([]byte(row.DataJSON), &data); err != nil {
			return row, nil, true, fmt.Errorf("failed to decode snapshot %s: %w", s.namespace, err)
		}
	}
	return row, data, true, nil
}

func (s *gormStore) save(tx *gorm.DB, row Snapshot, data map[string]json.RawMessage, found bool) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if !found {
		row = Snapshot{Namespace: s.namespace, DataJSON: string(b)}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create snapshot record: %w", err)
		}
		return nil
	}
	if err := tx.Model(&row).Update("data_json", string(b)).Error; err != nil {
		return fmt.Errorf("failed to update snapshot record: %w", err)
	}
	return nil
}

func (s *gormStore) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, data, _, err := s.load(s.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return pick(data, keys), nil
}

func (s *gormStore) Store(ctx context.Context, values map[string]any) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	encoded, err := encodeValues(values)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, data, found, err := s.load(tx)
		if err != nil {
			return err
		}
		for k, v := range encoded {
			data[k] = v
		}
		return s.save(tx, row, data, found)
	})
}

func (s *gormStore) Clear(ctx context.Context, keys ...string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if len(keys) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, data, found, err := s.load(tx)
		if err != nil || !found {
			return err
		}
		for _, k := range keys {
			delete(data, k)
		}
		return s.save(tx, row, data, found)
	})
}

func (s *gormStore) ClearAll(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.WithContext(ctx).Where("namespace = ?", s.namespace).Delete(&Snapshot{}).Error; err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *gormStore) Close() error {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Ping checks if the database connection is alive
func (s *gormStore) Ping() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

package stores

import (
	"fmt"
	"strconv"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresStore implements SnapshotStore on PostgreSQL.
type PostgresStore struct {
	gormStore
	dsn     string
	options map[string]string
}

// NewPostgresStore creates a new PostgreSQL store. The "max_open_conns" option
// limits the pool size.
func NewPostgresStore(config *StoreConfig) (*PostgresStore, error) {
	if config.Type != TypePostgres {
		return nil, fmt.Errorf("invalid store type for PostgreSQL store: %s", config.Type)
	}

	store := &PostgresStore{
		gormStore: gormStore{namespace: config.namespace()},
		dsn:       config.Connection,
		options:   config.Options,
	}

	if err := store.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	return store, nil
}

// NewPostgresStoreSimple creates a new PostgreSQL store with just a DSN
func NewPostgresStoreSimple(dsn string) (*PostgresStore, error) {
	config := NewStoreConfig(TypePostgres, dsn)
	return NewPostgresStore(config)
}

// Connect establishes a connection to the PostgreSQL database
func (s *PostgresStore) Connect() error {
	db, err := gorm.Open(postgres.Open(s.dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	s.db = db

	if v, ok := s.options["max_open_conns"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid max_open_conns %q: %w", v, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		sqlDB.SetMaxOpenConns(n)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	return s.migrate()
}

// Package storage provides the SQLite-backed persistence layer for Watchpost.
//
// The layer is built on database/sql with the mattn/go-sqlite3 driver plus a
// small generic ORM for routine CRUD. Schema changes go through the versioned
// migrator; raw SQL is reserved for aggregates and bulk maintenance.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"watchpost/internal/config"
)

// Storage wraps the database connection, the mini-ORM, and the repository set.
type Storage struct {
	db    *sql.DB
	orm   *ORM
	Repos *Repositories
}

// New initializes a new Storage instance from the provided configuration.
//
// WAL journaling and foreign key enforcement are enabled via the DSN.
// Connection pooling and timeouts are configured according to
// config.StorageConfig. All pending migrations are applied on startup.
func New(cfg config.StorageConfig) (*Storage, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", cfg.Path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply connection pool settings from config
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newStorage(db)
}

// NewInMemory creates a Storage backed by a private in-memory database.
// Intended for tests.
func NewInMemory() (*Storage, error) {
	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	// A single connection keeps every query on the same in-memory database
	db.SetMaxOpenConns(1)

	return newStorage(db)
}

func newStorage(db *sql.DB) (*Storage, error) {
	orm, err := NewORM(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ORM: %w", err)
	}

	if _, err := orm.migrator.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Storage{
		db:    db,
		orm:   orm,
		Repos: NewRepositories(orm),
	}, nil
}

// ORM returns the mini-ORM instance for query building.
func (s *Storage) ORM() *ORM {
	return s.orm
}

// DB returns the underlying database connection for raw SQL.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a single transaction.
func (s *Storage) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.orm.WithTx(ctx, fn)
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

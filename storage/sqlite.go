package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	_ "modernc.org/sqlite"
)

const createCredentialsTable = `
CREATE TABLE IF NOT EXISTS credentials (
	k TEXT PRIMARY KEY,
	v TEXT NOT NULL
);`

// SQLite is a Store backed by a single-table sqlite database, giving the
// session credential material that survives process restarts.
type SQLite struct {
	mu   sync.Mutex
	path string
	db   *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite creates a store persisting to the sqlite database at path. The
// database is not opened until Init.
func NewSQLite(path string) (*SQLite, error) {
	const op = "storage.NewSQLite"
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, errors.New("invalid parameter"))
	}
	return &SQLite{path: path}, nil
}

// Init implements Store.Init: it opens the database and creates the
// credentials table if needed.
func (s *SQLite) Init(ctx context.Context) error {
	const op = "SQLite.Init"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("%s: unable to open database %q: %w", op, s.path, err)
	}
	if _, err := db.ExecContext(ctx, createCredentialsTable); err != nil {
		var result *multierror.Error
		result = multierror.Append(result, fmt.Errorf("%s: unable to create credentials table: %w", op, err))
		if err := db.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: unable to close database: %w", op, err))
		}
		return result.ErrorOrNil()
	}
	s.db = db
	return nil
}

// Get implements Store.Get
func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	const op = "SQLite.Get"
	db, err := s.database()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	var v string
	err = db.QueryRowContext(ctx, "SELECT v FROM credentials WHERE k = ?", key).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("%s: key %q: %w", op, key, ErrNotFound)
	case err != nil:
		return "", fmt.Errorf("%s: query failed: %w", op, err)
	}
	return v, nil
}

// Set implements Store.Set
func (s *SQLite) Set(ctx context.Context, key string, value string) error {
	const op = "SQLite.Set"
	db, err := s.database()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = db.ExecContext(ctx,
		"INSERT INTO credentials (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v",
		key, value)
	if err != nil {
		return fmt.Errorf("%s: upsert failed: %w", op, err)
	}
	return nil
}

// Delete implements Store.Delete
func (s *SQLite) Delete(ctx context.Context, key string) error {
	const op = "SQLite.Delete"
	db, err := s.database()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM credentials WHERE k = ?", key); err != nil {
		return fmt.Errorf("%s: delete failed: %w", op, err)
	}
	return nil
}

// Clear implements Store.Clear
func (s *SQLite) Clear(ctx context.Context) error {
	const op = "SQLite.Clear"
	db, err := s.database()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM credentials"); err != nil {
		return fmt.Errorf("%s: clear failed: %w", op, err)
	}
	return nil
}

// Close implements Store.Close. A closed store can be reopened with Init.
func (s *SQLite) Close() error {
	const op = "SQLite.Close"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	if err := db.Close(); err != nil {
		return fmt.Errorf("%s: unable to close database: %w", op, err)
	}
	return nil
}

func (s *SQLite) database() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

// Store is the SQLite-backed data layer for every entry kind and its
// supporting entities. Grounded on the teacher's SQLiteStore: same driver,
// same open/schema sequence, same single *sql.DB with an RWMutex guarding
// the temporal-versioning read-modify-write sequence.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// Open creates (or reopens) a Store backed by the SQLite file at path.
// Use ":memory:" for an ephemeral store, matching the teacher's
// NewSQLiteStore default.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the filesystem path the store was opened with, used by the
// backup manager to locate the primary database file directly.
func (s *Store) Path() string { return s.path }

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// DB exposes the raw handle for callers (vector index setup, backups) that
// need engine-level access beyond the repository methods.
func (s *Store) DB() *sql.DB { return s.db }

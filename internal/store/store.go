// Package store provides the SQLite-backed session store: schema management,
// conflict-aware upserts, sync checkpoints, and batched retention.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // register sqlite driver
)

// Store is an explicitly constructed database handle. It is passed to each
// component constructor; there is no hidden global accessor.
type Store struct {
	db   *sql.DB
	path string

	extOnce sync.Once
	extOK   bool
}

// Options controls schema creation on open.
type Options struct {
	// ExtendedSchema creates the feature tables and extended columns.
	// Existing databases keep whatever generation they were created with;
	// the adapter probe decides the write path at runtime.
	ExtendedSchema bool
}

// Open opens or creates the session database at the given path.
func Open(dbPath string, opts Options) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	if _, err := db.Exec(baseSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if opts.ExtendedSchema {
		if err := s.applyExtendedSchema(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("extending schema: %w", err)
		}
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for callers that run their own queries.
// The connection pool permits concurrent readers while a sync runs.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SessionIDs returns the set of session identifiers already in the store.
func (s *Store) SessionIDs() (map[string]struct{}, error) {
	rows, err := s.db.Query("SELECT session_id FROM sessions")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// TrackedFilePaths returns the set of file paths that have produced a stored
// session. Discovery consults this to tell never-seen files apart from
// re-touched ones.
func (s *Store) TrackedFilePaths() (map[string]struct{}, error) {
	rows, err := s.db.Query("SELECT file_path FROM sessions")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	paths := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths[p] = struct{}{}
	}
	return paths, rows.Err()
}

// SessionCount returns the number of stored sessions.
func (s *Store) SessionCount() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&n)
	return n, err
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"kubedesk/pkg/logging"
)

// ErrPersistence marks a local store write that failed after a retry. The
// engine keeps operating against in-memory state when this surfaces.
var ErrPersistence = errors.New("local store persistence failure")

// Well-known preference keys. Created on first use, updated on explicit user
// action, never implicitly deleted.
const (
	KeyLicense          = "license_string"
	KeyEULAAccepted     = "eula_accepted"
	KeyKubeconfigPath   = "kubeconfig_file_location"
	KeyCustomNamespaces = "custom_ns_list"
)

// Preference is a single persisted key/value row.
type Preference struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

const schema = `
CREATE TABLE IF NOT EXISTS preferences (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Store is a durable key/value store for license and settings rows, backed
// by an embedded SQLite database. A successful Set survives process restart.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists. WAL journaling plus full synchronous writes keep a
// completed Set crash-consistent.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store at %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure local store schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the stored value for key. The second return is false when the
// key has never been set.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read preference %q: %w", key, err)
	}
	return value, true, nil
}

// Set durably upserts key to value. A failed write is retried once; a second
// failure is reported as ErrPersistence so the caller can surface a
// degraded-mode warning. Last writer wins on same-key contention.
func (s *Store) Set(ctx context.Context, key, value string) error {
	err := s.upsert(ctx, key, value)
	if err == nil {
		return nil
	}

	logging.Warn("store", "write of %q failed, retrying once: %v", key, err)
	if err = s.upsert(ctx, key, value); err != nil {
		return fmt.Errorf("%w: key %q: %v", ErrPersistence, key, err)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	return err
}

// GetAll returns the stored preference rows for the requested keys. Keys
// never set come back with an empty value, mirroring what the settings view
// expects.
func (s *Store) GetAll(ctx context.Context, keys []string) ([]Preference, error) {
	prefs := make([]Preference, 0, len(keys))
	for _, key := range keys {
		value, _, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		prefs = append(prefs, Preference{Key: key, Value: value})
	}
	return prefs, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

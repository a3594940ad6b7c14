// Package settings persists user choices that outlive the daemon: the
// connection mode, the current profile and the keep-alive toggle.
package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    updated_at  INTEGER NOT NULL
);
`

// Keys.
const (
	KeyConnectionMode = "connection_mode"
	KeyCurrentProfile = "current_profile"
	KeyKeepAlive      = "keep_alive"
)

// Store is a key-value table in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the value for key and whether it was set.
func (s *Store) Get(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// All returns every stored setting.
func (s *Store) All() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ConnectionMode returns the persisted mode name, or def if none was saved.
func (s *Store) ConnectionMode(def string) (string, error) {
	v, ok, err := s.Get(KeyConnectionMode)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}

func (s *Store) SetConnectionMode(mode string) error {
	return s.Set(KeyConnectionMode, mode)
}

// CurrentProfile returns the persisted profile name, or def.
func (s *Store) CurrentProfile(def string) (string, error) {
	v, ok, err := s.Get(KeyCurrentProfile)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}

func (s *Store) SetCurrentProfile(name string) error {
	return s.Set(KeyCurrentProfile, name)
}

// KeepAlive returns the persisted keep-alive toggle, or def. A malformed
// value reads as def.
func (s *Store) KeepAlive(def bool) (bool, error) {
	v, ok, err := s.Get(KeyKeepAlive)
	if err != nil || !ok {
		return def, err
	}
	b, perr := strconv.ParseBool(v)
	if perr != nil {
		return def, nil
	}
	return b, nil
}

func (s *Store) SetKeepAlive(enabled bool) error {
	return s.Set(KeyKeepAlive, strconv.FormatBool(enabled))
}

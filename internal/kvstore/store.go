// Package kvstore is the persistence layer for Hearth: a namespaced
// key-value table in SQLite. Every persisted record (vault metadata,
// secrets, runtime settings, agent state, the audit log) is one value
// under one namespace/key pair, and each write is independently atomic.
package kvstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// KV is the storage contract the rest of Hearth depends on.
type KV interface {
	// Get returns "" and a nil error when the key does not exist.
	Get(namespace, key string) (string, error)
	Set(namespace, key, value string) error
	Delete(namespace, key string) error
	List(namespace string) (map[string]string, error)
}

// Store implements [KV] on a SQLite database. Methods are safe for
// concurrent use.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path, creating the parent
// directory when needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s, err := NewFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewFromDB wraps an already-open database and ensures the schema.
func NewFromDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS kv (
		namespace  TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (namespace, key)
	);
	`)
	return err
}

func (s *Store) Get(namespace, key string) (string, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

func (s *Store) Set(namespace, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE
		 SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete is a no-op for missing keys.
func (s *Store) Delete(namespace, key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE namespace = ? AND key = ?`, namespace, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// List returns every key in namespace. The map is never nil.
func (s *Store) List(namespace string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM kv WHERE namespace = ? ORDER BY key`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", namespace, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", namespace, err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// GetJSON decodes the value at namespace/key into v. It reports false
// when the key is absent, leaving v untouched.
func GetJSON(kv KV, namespace, key string, v any) (bool, error) {
	raw, err := kv.Get(namespace, key)
	if err != nil {
		return false, err
	}
	if raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", namespace, key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it at namespace/key.
func SetJSON(kv KV, namespace, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", namespace, key, err)
	}
	return kv.Set(namespace, key, string(data))
}

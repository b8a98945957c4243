// Package localstore is the same-process durable key/value storage that holds
// anonymous carts. Calls are synchronous and never touch the network.
package localstore

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

type Storage interface {
	// Read reports ok=false when the key is absent.
	Read(key string) (value string, ok bool, err error)
	Write(key, value string) error
}

type SQLiteStore struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Read(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("local store read %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Write(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, key, value)
	if err != nil {
		return fmt.Errorf("local store write %q: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every key with the given prefix.
func (s *SQLiteStore) DeletePrefix(prefix string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE substr(key, 1, ?) = ?`, len(prefix), prefix); err != nil {
		return fmt.Errorf("local store delete prefix %q: %w", prefix, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Scoped namespaces every key under prefix so several clients can share one
// underlying store without seeing each other's data.
type Scoped struct {
	next   Storage
	prefix string
}

func NewScoped(next Storage, prefix string) *Scoped {
	return &Scoped{next: next, prefix: prefix + ":"}
}

func (s *Scoped) Read(key string) (string, bool, error) {
	return s.next.Read(s.prefix + key)
}

func (s *Scoped) Write(key, value string) error {
	return s.next.Write(s.prefix+key, value)
}

func (s *Scoped) Prefix() string {
	return s.prefix
}

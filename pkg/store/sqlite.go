package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists keys in a single-table SQLite database. It reports
// quota from the database page accounting when a max page count is set.
// SQLite has no cross-process change feed, so SQLiteStore does not implement
// Watcher; deployments needing cross-process sync should use the Redis or
// Postgres backends.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed initializes) a SQLite-backed store at
// path. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// A single writer at a time matches the engine's per-key serialization.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize kv table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Remove implements Store.
func (s *SQLiteStore) Remove(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

// Keys implements Store.
func (s *SQLiteStore) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EstimateQuota implements QuotaReporter from SQLite's page accounting.
// max_page_count defaults to a value so large it is effectively unlimited, in
// which case no quota is reported and the monitor falls back to its default.
func (s *SQLiteStore) EstimateQuota(ctx context.Context) (Quota, error) {
	var pageCount, pageSize, maxPages int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return Quota{}, fmt.Errorf("failed to read page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return Quota{}, fmt.Errorf("failed to read page_size: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA max_page_count`).Scan(&maxPages); err != nil {
		return Quota{}, fmt.Errorf("failed to read max_page_count: %w", err)
	}

	const unlimitedPages = 1 << 30
	if maxPages >= unlimitedPages {
		return Quota{}, fmt.Errorf("sqlite store: no page limit configured")
	}

	return Quota{
		Limit: maxPages * pageSize,
		Usage: pageCount * pageSize,
	}, nil
}

// SetMaxSize caps the database at approximately limit bytes by constraining
// the page count.
func (s *SQLiteStore) SetMaxSize(limit int64) error {
	var pageSize int64
	if err := s.db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		return fmt.Errorf("failed to read page_size: %w", err)
	}
	pages := limit / pageSize
	if pages < 1 {
		pages = 1
	}
	if _, err := s.db.Exec(fmt.Sprintf(`PRAGMA max_page_count = %d`, pages)); err != nil {
		return fmt.Errorf("failed to set max_page_count: %w", err)
	}
	return nil
}

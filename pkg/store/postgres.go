package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const pgChangeChannel = "leadstore_changes"

// PostgresStore persists keys in a kv table and relays change events through
// LISTEN/NOTIFY, so every connected process observes committed writes. The
// NOTIFY payload carries only the key and writer identity; subscribers
// re-read the value, keeping payloads under the postgres notification limit.
type PostgresStore struct {
	db     *sql.DB
	url    string
	limit  int64
	origin string
}

// NewPostgresStore connects to postgres, initializes the kv table, and
// verifies the connection. A non-positive limit disables quota reporting.
func NewPostgresStore(url string, limit int64) (*PostgresStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BYTEA NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize kv table: %w", err)
	}

	s := NewPostgresStoreFromDB(db, limit)
	s.url = url
	return s, nil
}

// NewPostgresStoreFromDB wraps an existing database handle. Used by tests to
// substitute a mock; Watch requires a connection URL and is unavailable.
func NewPostgresStoreFromDB(db *sql.DB, limit int64) *PostgresStore {
	return &PostgresStore{
		db:     db,
		limit:  limit,
		origin: uuid.NewString(),
	}
}

// Origin returns this store's writer identity.
func (s *PostgresStore) Origin() string { return s.origin }

// Get implements Store.
func (s *PostgresStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

// Set implements Store and notifies listeners in the same transaction, so an
// event is only ever delivered for a committed write.
func (s *PostgresStore) Set(key string, value []byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := s.notify(tx, ChangeEvent{Key: key, Origin: s.origin}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	return nil
}

// Remove implements Store.
func (s *PostgresStore) Remove(key string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	if err := s.notify(tx, ChangeEvent{Key: key, Removed: true, Origin: s.origin}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit removal of %s: %w", key, err)
	}
	return nil
}

// Keys implements Store.
func (s *PostgresStore) Keys() ([]string, error) {
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// EstimateQuota implements QuotaReporter against the configured capacity,
// using the live database size as usage.
func (s *PostgresStore) EstimateQuota(ctx context.Context) (Quota, error) {
	if s.limit <= 0 {
		return Quota{}, fmt.Errorf("postgres store: no capacity configured")
	}
	var size int64
	err := s.db.QueryRowContext(ctx,
		`SELECT pg_total_relation_size('kv')`).Scan(&size)
	if err != nil {
		return Quota{}, fmt.Errorf("failed to measure kv size: %w", err)
	}
	return Quota{Limit: s.limit, Usage: size}, nil
}

// Watch implements Watcher via LISTEN on the change channel. Events from this
// process carry its own origin and can be filtered by the subscriber.
func (s *PostgresStore) Watch(ctx context.Context) (<-chan ChangeEvent, error) {
	if s.url == "" {
		return nil, fmt.Errorf("postgres store: watch requires a connection URL")
	}

	listener := pq.NewListener(s.url, 10*time.Second, time.Minute, nil)
	if err := listener.Listen(pgChangeChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", pgChangeChannel, err)
	}

	ch := make(chan ChangeEvent, 64)
	go func() {
		defer close(ch)
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				if n == nil {
					// Reconnect marker from pq; nothing to deliver.
					continue
				}
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
					continue
				}
				if !ev.Removed {
					// Payloads omit values; hydrate from the table.
					if value, err := s.Get(ev.Key); err == nil {
						ev.NewValue = value
					}
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (s *PostgresStore) notify(tx *sql.Tx, ev ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}
	if _, err := tx.Exec(`SELECT pg_notify($1, $2)`, pgChangeChannel, string(payload)); err != nil {
		return fmt.Errorf("failed to notify change: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value exists for a key.
var ErrNotFound = errors.New("store: key not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// ChangeEvent describes one cross-process change to a key, delivered through
// a Watcher channel. Origin identifies the writer that produced the change so
// subscribers can ignore their own writes.
type ChangeEvent struct {
	Key      string `json:"key"`
	NewValue []byte `json:"newValue,omitempty"`
	Removed  bool   `json:"removed,omitempty"`
	Origin   string `json:"origin,omitempty"`
}

// Quota reports the capacity ceiling and current usage of a backend in bytes.
type Quota struct {
	Limit int64 `json:"limit"`
	Usage int64 `json:"usage"`
}

// Store is the synchronous key-value primitive the engine persists through.
// Values are opaque byte strings; one key holds one value.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)
	// Set stores value under key, replacing any existing value.
	Set(key string, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
	// Keys enumerates all stored keys.
	Keys() ([]string, error)
	// Close releases backend resources.
	Close() error
}

// Watcher is implemented by backends that can deliver cross-process change
// events (the analog of a browser storage-changed event). The channel is
// closed when ctx is cancelled or the store closes.
type Watcher interface {
	Watch(ctx context.Context) (<-chan ChangeEvent, error)
}

// QuotaReporter is implemented by backends that can report their capacity.
// Backends without quota reporting fall back to the monitor's default limit.
type QuotaReporter interface {
	EstimateQuota(ctx context.Context) (Quota, error)
}

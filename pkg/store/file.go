package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

const fileExt = ".json"

// FileStore persists each key as one file in a root directory. Cross-process
// change events are derived from fsnotify, so two processes sharing a root
// directory see each other's writes.
type FileStore struct {
	root  string
	limit int64
}

// NewFileStore creates a file-backed store rooted at dir. A non-positive
// limit disables quota reporting.
func NewFileStore(dir string, limit int64) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{root: dir, limit: limit}, nil
}

// Get implements Store.
func (s *FileStore) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Set implements Store. The write goes through a temp file and rename so a
// concurrent reader never observes a torn value.
func (s *FileStore) Set(key string, value []byte) error {
	path := s.path(key)
	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	return nil
}

// Remove implements Store.
func (s *FileStore) Remove(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

// Keys implements Store.
func (s *FileStore) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key, err := decodeKey(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

// EstimateQuota implements QuotaReporter by scanning file sizes under root.
func (s *FileStore) EstimateQuota(ctx context.Context) (Quota, error) {
	if s.limit <= 0 {
		return Quota{}, fmt.Errorf("file store: no capacity configured")
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return Quota{}, fmt.Errorf("failed to scan store directory: %w", err)
	}
	var usage int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		usage += info.Size()
	}
	return Quota{Limit: s.limit, Usage: usage}, nil
}

// Watch implements Watcher using fsnotify. Writes go through rename, so a
// Create event on a key file signals a committed value.
func (s *FileStore) Watch(ctx context.Context) (<-chan ChangeEvent, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch store directory: %w", err)
	}

	ch := make(chan ChangeEvent, 64)
	go func() {
		defer close(ch)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				change, ok := s.toChange(ev)
				if !ok {
					continue
				}
				select {
				case ch <- change:
				case <-ctx.Done():
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				// Watch errors are transient on most platforms; keep going.
			}
		}
	}()
	return ch, nil
}

func (s *FileStore) toChange(ev fsnotify.Event) (ChangeEvent, bool) {
	name := filepath.Base(ev.Name)
	if !strings.HasSuffix(name, fileExt) {
		return ChangeEvent{}, false
	}
	key, err := decodeKey(strings.TrimSuffix(name, fileExt))
	if err != nil {
		return ChangeEvent{}, false
	}
	switch {
	case ev.Op.Has(fsnotify.Remove):
		return ChangeEvent{Key: key, Removed: true}, true
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Rename):
		value, err := s.Get(key)
		if err != nil {
			return ChangeEvent{}, false
		}
		return ChangeEvent{Key: key, NewValue: value}, true
	default:
		return ChangeEvent{}, false
	}
}

// path maps a key to its file, hex-encoding so arbitrary keys stay within one
// flat directory.
func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, hex.EncodeToString([]byte(key))+fileExt)
}

func decodeKey(name string) (string, error) {
	b, err := hex.DecodeString(name)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

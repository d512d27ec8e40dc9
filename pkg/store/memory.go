package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a map-backed Store with an optional capacity limit and local
// change fan-out. It is used in tests and for embedding the engine without a
// durable backend.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	limit    int64
	usage    int64
	closed   bool
	watchers []chan ChangeEvent

	// FailSets makes the next n Set calls fail, for exercising retry paths.
	failMu   sync.Mutex
	failSets int
	failErr  error
}

// NewMemoryStore creates an in-memory store. A non-positive limit means
// unlimited capacity.
func NewMemoryStore(limit int64) *MemoryStore {
	return &MemoryStore{
		data:  make(map[string][]byte),
		limit: limit,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set implements Store.
func (s *MemoryStore) Set(key string, value []byte) error {
	s.failMu.Lock()
	if s.failSets > 0 {
		s.failSets--
		err := s.failErr
		s.failMu.Unlock()
		return err
	}
	s.failMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old := int64(len(s.data[key]))
	next := s.usage - old + int64(len(value))
	if s.limit > 0 && next > s.limit {
		s.mu.Unlock()
		return fmt.Errorf("memory store: capacity %d exceeded by write of %d bytes", s.limit, len(value))
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	s.usage = next
	watchers := append([]chan ChangeEvent(nil), s.watchers...)
	s.mu.Unlock()

	s.dispatch(watchers, ChangeEvent{Key: key, NewValue: cp})
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if v, ok := s.data[key]; ok {
		s.usage -= int64(len(v))
		delete(s.data, key)
	}
	watchers := append([]chan ChangeEvent(nil), s.watchers...)
	s.mu.Unlock()

	s.dispatch(watchers, ChangeEvent{Key: key, Removed: true})
	return nil
}

// Keys implements Store.
func (s *MemoryStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, ch := range s.watchers {
		close(ch)
	}
	s.watchers = nil
	return nil
}

// EstimateQuota implements QuotaReporter. Stores without a limit report no
// quota so the monitor falls back to its default.
func (s *MemoryStore) EstimateQuota(ctx context.Context) (Quota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.limit <= 0 {
		return Quota{}, fmt.Errorf("memory store: no capacity configured")
	}
	return Quota{Limit: s.limit, Usage: s.usage}, nil
}

// Watch implements Watcher. Events are delivered for local writes, which lets
// tests exercise the sync dispatcher without a second process.
func (s *MemoryStore) Watch(ctx context.Context) (<-chan ChangeEvent, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	ch := make(chan ChangeEvent, 64)
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		for i, w := range s.watchers {
			if w == ch {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				close(ch)
				break
			}
		}
		s.mu.Unlock()
	}()

	return ch, nil
}

// FailNextSets makes the next n Set calls return err, simulating a transient
// backend failure.
func (s *MemoryStore) FailNextSets(n int, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failSets = n
	s.failErr = err
}

// Inject emits a change event to watchers without writing, simulating an
// update arriving from another process.
func (s *MemoryStore) Inject(ev ChangeEvent) {
	s.mu.RLock()
	watchers := append([]chan ChangeEvent(nil), s.watchers...)
	s.mu.RUnlock()
	s.dispatch(watchers, ev)
}

func (s *MemoryStore) dispatch(watchers []chan ChangeEvent, ev ChangeEvent) {
	for _, ch := range watchers {
		select {
		case ch <- ev:
		default:
			// Slow watcher, drop rather than block the writer.
		}
	}
}

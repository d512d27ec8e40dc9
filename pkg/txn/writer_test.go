package txn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/leadstore/pkg/quota"
	"github.com/platinummonkey/leadstore/pkg/schema"
	"github.com/platinummonkey/leadstore/pkg/sealed"
	"github.com/platinummonkey/leadstore/pkg/store"
)

func fastConfig() Config {
	return Config{MaxRetries: 3, BaseDelay: time.Millisecond}
}

func newTestWriter(st store.Store) *Writer {
	return NewWriter(st, nil, sealed.Noop{}, fastConfig(), nil, nil)
}

func TestEnqueueAwaitCommits(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	w := newTestWriter(st)

	err := w.EnqueueAwait(context.Background(), "leads", []map[string]any{{"id": "l1"}}, Options{})
	require.NoError(t, err)

	v, err := st.Get("leads")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"l1"}]`, string(v))
}

func TestSameKeyWritesAreFIFO(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	w := newTestWriter(st)

	var committed []string
	var mu sync.Mutex
	w.OnCommit(func(key string, data []byte) {
		mu.Lock()
		committed = append(committed, string(data))
		mu.Unlock()
	})

	const n = 20
	for i := 0; i < n; i++ {
		_, err := w.Enqueue("leads", json.RawMessage(fmt.Sprintf(`["v%d"]`, i)), Options{})
		require.NoError(t, err)
	}
	require.NoError(t, w.Flush(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, committed, n)
	for i, data := range committed {
		assert.Equal(t, fmt.Sprintf(`["v%d"]`, i), data)
	}

	v, err := st.Get("leads")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf(`["v%d"]`, n-1), string(v))
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	st.FailNextSets(2, errors.New("backend hiccup"))
	w := newTestWriter(st)

	err := w.EnqueueAwait(context.Background(), "leads", json.RawMessage(`[]`), Options{})
	require.NoError(t, err)

	v, err := st.Get("leads")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(v))
}

func TestRetriesExhausted(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	st.FailNextSets(100, errors.New("backend down"))
	w := NewWriter(st, nil, sealed.Noop{}, Config{MaxRetries: 2, BaseDelay: time.Millisecond}, nil, nil)

	var failedKey string
	err := w.EnqueueAwait(context.Background(), "leads", json.RawMessage(`[]`), Options{
		OnError: func(key string, err error) { failedKey = key },
	})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, "leads", failedKey)
}

func TestCapacityRejectionIsNotRetried(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	require.NoError(t, st.Set("leads", []byte(`["old"]`)))

	monitor := quota.NewMonitor(st, quota.Config{FallbackLimit: 10}, nil)
	monitor.SetTracked(10)
	w := NewWriter(st, monitor, sealed.Noop{}, fastConfig(), nil, nil)

	var rejectedSize int64
	err := w.EnqueueAwait(context.Background(), "leads", json.RawMessage(`["a much larger replacement value"]`), Options{
		OnQuotaExceeded: func(key string, size int64) { rejectedSize = size },
	})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Positive(t, rejectedSize)

	// The stored value is unchanged.
	v, err := st.Get("leads")
	require.NoError(t, err)
	assert.Equal(t, `["old"]`, string(v))
}

func TestSensitiveKeyRequiresEncryption(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()

	// Sensitive key configured but no key material loaded.
	cipher, err := sealed.NewAESGCM(nil, []string{"leads"})
	require.NoError(t, err)
	w := NewWriter(st, nil, cipher, fastConfig(), nil, nil)

	err = w.EnqueueAwait(context.Background(), "leads", json.RawMessage(`[]`), Options{})
	assert.ErrorIs(t, err, sealed.ErrNoKey)

	// Nothing was stored in plaintext.
	_, err = st.Get("leads")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSensitiveKeyIsSealedAtRest(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()

	cipher, err := sealed.NewAESGCM(bytes.Repeat([]byte{1}, 32), []string{"leads"})
	require.NoError(t, err)
	w := NewWriter(st, nil, cipher, fastConfig(), nil, nil)

	require.NoError(t, w.EnqueueAwait(context.Background(), "leads", json.RawMessage(`[{"clientName":"Acme"}]`), Options{}))

	v, err := st.Get("leads")
	require.NoError(t, err)
	assert.True(t, sealed.IsSealed(v))
	assert.NotContains(t, string(v), "Acme")

	// Non-sensitive keys stay plaintext.
	require.NoError(t, w.EnqueueAwait(context.Background(), "columnConfig", json.RawMessage(`[]`), Options{}))
	v, err = st.Get("columnConfig")
	require.NoError(t, err)
	assert.False(t, sealed.IsSealed(v))
}

func TestCreateBackup(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	require.NoError(t, st.Set("leads", []byte(`["old"]`)))
	w := newTestWriter(st)

	require.NoError(t, w.EnqueueAwait(context.Background(), "leads", json.RawMessage(`["new"]`), Options{CreateBackup: true}))

	backup, err := st.Get(schema.BackupKey("leads"))
	require.NoError(t, err)
	assert.Equal(t, `["old"]`, string(backup))

	v, err := st.Get("leads")
	require.NoError(t, err)
	assert.Equal(t, `["new"]`, string(v))
}

func TestCreateBackupSkippedWhenNoCurrentValue(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	w := newTestWriter(st)

	require.NoError(t, w.EnqueueAwait(context.Background(), "leads", json.RawMessage(`["new"]`), Options{CreateBackup: true}))

	_, err := st.Get(schema.BackupKey("leads"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// stallFirstSet blocks the first Set call until released, so tests can pile
// writes up behind an in-flight commit.
type stallFirstSet struct {
	*store.MemoryStore
	first   int32
	entered chan struct{}
	release chan struct{}
}

func (s *stallFirstSet) Set(key string, value []byte) error {
	if atomic.CompareAndSwapInt32(&s.first, 0, 1) {
		close(s.entered)
		<-s.release
	}
	return s.MemoryStore.Set(key, value)
}

func TestSyncNowSupersedesEarlierWrites(t *testing.T) {
	mem := store.NewMemoryStore(0)
	defer mem.Close()
	st := &stallFirstSet{
		MemoryStore: mem,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	w := newTestWriter(st)

	tx0, err := w.Enqueue("leads", json.RawMessage(`["zero"]`), Options{})
	require.NoError(t, err)

	// Wait until the drain goroutine is blocked inside tx0's commit.
	select {
	case <-st.entered:
	case <-time.After(time.Second):
		t.Fatal("first write never reached the store")
	}

	tx1, err := w.Enqueue("leads", json.RawMessage(`["one"]`), Options{})
	require.NoError(t, err)
	tx2, err := w.Enqueue("leads", json.RawMessage(`["two"]`), Options{})
	require.NoError(t, err)

	w.SyncNow()

	assert.ErrorIs(t, <-tx1.done, ErrSuperseded)
	require.NoError(t, <-tx2.done)

	v, err := st.Get("leads")
	require.NoError(t, err)
	assert.Equal(t, `["two"]`, string(v))

	close(st.release)
	require.NoError(t, <-tx0.done)
}

func TestShutdownDrainsAndRejectsNewWork(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	w := newTestWriter(st)

	_, err := w.Enqueue("leads", json.RawMessage(`["a"]`), Options{})
	require.NoError(t, err)

	require.NoError(t, w.Shutdown(context.Background()))

	_, err = w.Enqueue("leads", json.RawMessage(`["b"]`), Options{})
	assert.ErrorIs(t, err, ErrClosed)

	v, err := st.Get("leads")
	require.NoError(t, err)
	assert.Equal(t, `["a"]`, string(v))
}

func TestCommitUpdatesTrackedUsage(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	monitor := quota.NewMonitor(st, quota.DefaultConfig(), nil)
	w := NewWriter(st, monitor, sealed.Noop{}, fastConfig(), nil, nil)

	require.NoError(t, w.EnqueueAwait(context.Background(), "leads", json.RawMessage(`["0123456789"]`), Options{}))
	assert.Equal(t, int64(14), monitor.TrackedUsage())

	require.NoError(t, w.EnqueueAwait(context.Background(), "leads", json.RawMessage(`["01"]`), Options{}))
	assert.Equal(t, int64(6), monitor.TrackedUsage())
}

func TestPendingCount(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	w := newTestWriter(st)

	assert.Zero(t, w.PendingCount())
	require.NoError(t, w.EnqueueAwait(context.Background(), "leads", json.RawMessage(`[]`), Options{}))
	require.NoError(t, w.Flush(context.Background()))
	assert.Zero(t, w.PendingCount())
}

func TestBackupAccountingStaysConsistent(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	monitor := quota.NewMonitor(st, quota.DefaultConfig(), nil)
	w := NewWriter(st, monitor, sealed.Noop{}, fastConfig(), nil, nil)

	payload := json.RawMessage(`["0123456789"]`)
	for i := 0; i < 10; i++ {
		err := w.EnqueueAwait(context.Background(), "leads", payload, Options{CreateBackup: true})
		require.NoError(t, err)
	}

	// One live value plus one backup snapshot, however many times the key
	// was written; each backup replaces the previous one.
	assert.Equal(t, int64(2*len(payload)), monitor.TrackedUsage())
}

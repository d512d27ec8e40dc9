package tabsync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/leadstore/pkg/sealed"
	"github.com/platinummonkey/leadstore/pkg/store"
	"github.com/platinummonkey/leadstore/pkg/txn"
)

type capture struct {
	mu      sync.Mutex
	updates []Update
}

func (c *capture) cb(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
}

func (c *capture) wait(t *testing.T, n int) []Update {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.updates) >= n {
			out := append([]Update(nil), c.updates...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d updates", n)
	return nil
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}

func newTestDispatcher(t *testing.T) (*store.MemoryStore, *txn.Writer, *Dispatcher) {
	t.Helper()
	st := store.NewMemoryStore(0)
	t.Cleanup(func() { st.Close() })
	w := txn.NewWriter(st, nil, sealed.Noop{}, txn.Config{MaxRetries: 1, BaseDelay: time.Millisecond}, nil, nil)
	return st, w, NewDispatcher(st, w, nil)
}

func TestLocalCommitDispatch(t *testing.T) {
	_, w, d := newTestDispatcher(t)

	var c capture
	unregister := d.Register("leads", c.cb)
	defer unregister()

	payload := `{"version":"1.0","data":[{"id":"l1"}],"timestamp":"2024-01-01T00:00:00Z"}`
	require.NoError(t, w.EnqueueAwait(context.Background(), "leads", json.RawMessage(payload), txn.Options{}))

	updates := c.wait(t, 1)
	assert.Equal(t, "leads", updates[0].Key)
	assert.False(t, updates[0].Remote)
	require.NotNil(t, updates[0].Envelope)
	assert.Equal(t, "1.0", updates[0].Envelope.Version)
}

func TestRemoteChangeDispatch(t *testing.T) {
	st, _, d := newTestDispatcher(t)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	var c capture
	defer d.Register("leads", c.cb)()

	st.Inject(store.ChangeEvent{
		Key:      "leads",
		NewValue: []byte(`{"version":"1.0","data":[],"timestamp":"2024-01-01T00:00:00Z"}`),
		Origin:   "other-process",
	})

	updates := c.wait(t, 1)
	assert.True(t, updates[0].Remote)
	require.NotNil(t, updates[0].Envelope)
}

func TestRemoteRemovalDispatch(t *testing.T) {
	st, _, d := newTestDispatcher(t)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	var c capture
	defer d.Register("leads", c.cb)()

	st.Inject(store.ChangeEvent{Key: "leads", Removed: true})

	updates := c.wait(t, 1)
	assert.True(t, updates[0].Removed)
	assert.Nil(t, updates[0].Envelope)
}

func TestOwnWriteEchoSuppressed(t *testing.T) {
	st, w, d := newTestDispatcher(t)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	var c capture
	defer d.Register("leads", c.cb)()

	// The memory store echoes local writes through the watch channel; the
	// dispatcher must deliver the commit exactly once.
	payload := `{"version":"1.0","data":[1],"timestamp":"2024-01-01T00:00:00Z"}`
	require.NoError(t, w.EnqueueAwait(context.Background(), "leads", json.RawMessage(payload), txn.Options{}))

	c.wait(t, 1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, c.count())

	// A genuinely different remote payload still comes through.
	st.Inject(store.ChangeEvent{
		Key:      "leads",
		NewValue: []byte(`{"version":"1.0","data":[2],"timestamp":"2024-01-01T00:00:00Z"}`),
	})
	updates := c.wait(t, 2)
	assert.True(t, updates[1].Remote)
}

func TestDispatchOnlyToMatchingKey(t *testing.T) {
	_, w, d := newTestDispatcher(t)

	var leads, columns capture
	defer d.Register("leads", leads.cb)()
	defer d.Register("columnConfig", columns.cb)()

	require.NoError(t, w.EnqueueAwait(context.Background(), "leads", json.RawMessage(`[]`), txn.Options{}))

	leads.wait(t, 1)
	assert.Zero(t, columns.count())
}

func TestUnregister(t *testing.T) {
	_, w, d := newTestDispatcher(t)

	var c capture
	unregister := d.Register("leads", c.cb)
	unregister()

	require.NoError(t, w.EnqueueAwait(context.Background(), "leads", json.RawMessage(`[]`), txn.Options{}))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, c.count())
}

func TestCallbackPanicDoesNotStopDispatch(t *testing.T) {
	_, w, d := newTestDispatcher(t)

	var c capture
	defer d.Register("leads", func(Update) { panic("bad subscriber") })()
	defer d.Register("leads", c.cb)()

	require.NoError(t, w.EnqueueAwait(context.Background(), "leads", json.RawMessage(`[]`), txn.Options{}))
	c.wait(t, 1)
}

func TestUnloadFlushesPendingWrites(t *testing.T) {
	st, w, d := newTestDispatcher(t)

	tx, err := w.Enqueue("leads", json.RawMessage(`["pending"]`), txn.Options{})
	require.NoError(t, err)
	_ = tx

	d.Unload()
	require.NoError(t, w.Flush(context.Background()))

	v, err := st.Get("leads")
	require.NoError(t, err)
	assert.Equal(t, `["pending"]`, string(v))
}

func TestHideFlushes(t *testing.T) {
	st, w, d := newTestDispatcher(t)

	_, err := w.Enqueue("leads", json.RawMessage(`["hidden"]`), txn.Options{})
	require.NoError(t, err)

	d.Hide(context.Background())
	require.NoError(t, w.Flush(context.Background()))

	v, err := st.Get("leads")
	require.NoError(t, err)
	assert.Equal(t, `["hidden"]`, string(v))
}

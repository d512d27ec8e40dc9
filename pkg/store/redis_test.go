package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(RedisConfig{URL: "redis://" + mr.Addr(), Prefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return mr, s
}

func TestRedisStoreRoundTrip(t *testing.T) {
	_, s := newRedis(t)

	_, err := s.Get("leads")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set("leads", []byte(`[{"id":"l1"}]`)))
	v, err := s.Get("leads")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"l1"}]`, string(v))

	require.NoError(t, s.Remove("leads"))
	_, err = s.Get("leads")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Remove("leads"))
}

func TestRedisStoreNamespacing(t *testing.T) {
	mr, s := newRedis(t)

	require.NoError(t, s.Set("leads", []byte(`[]`)))
	got, err := mr.Get("test:kv:leads")
	require.NoError(t, err)
	assert.Equal(t, `[]`, got)
}

func TestRedisStoreKeys(t *testing.T) {
	_, s := newRedis(t)

	require.NoError(t, s.Set("leads", []byte(`[]`)))
	require.NoError(t, s.Set("columnConfig", []byte(`[]`)))

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"leads", "columnConfig"}, keys)
}

func TestRedisStoreWatch(t *testing.T) {
	mr := miniredis.RunT(t)

	writer, err := NewRedisStore(RedisConfig{URL: "redis://" + mr.Addr(), Prefix: "test"})
	require.NoError(t, err)
	defer writer.Close()
	watcher, err := NewRedisStore(RedisConfig{URL: "redis://" + mr.Addr(), Prefix: "test"})
	require.NoError(t, err)
	defer watcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := watcher.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, writer.Set("leads", []byte(`["from other process"]`)))

	select {
	case ev := <-ch:
		assert.Equal(t, "leads", ev.Key)
		assert.Equal(t, `["from other process"]`, string(ev.NewValue))
		assert.Equal(t, writer.Origin(), ev.Origin)
		assert.NotEqual(t, watcher.Origin(), ev.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("no change event over pub/sub")
	}

	require.NoError(t, writer.Remove("leads"))
	select {
	case ev := <-ch:
		assert.True(t, ev.Removed)
	case <-time.After(2 * time.Second):
		t.Fatal("no removal event over pub/sub")
	}
}

func TestRedisStoreWatchDropsMalformedMessages(t *testing.T) {
	mr, s := newRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.Watch(ctx)
	require.NoError(t, err)

	mr.Publish("test:changes", "{not json")
	mr.Publish("test:changes", `{"key":"leads","removed":true}`)

	select {
	case ev := <-ch:
		assert.Equal(t, "leads", ev.Key)
		assert.True(t, ev.Removed)
	case <-time.After(2 * time.Second):
		t.Fatal("well-formed event was not delivered")
	}
}

func TestRedisStoreOriginsAreUnique(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := NewRedisStore(RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisStore(RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.Origin(), b.Origin())
}

// Package tabsync delivers cross-process change notifications to registered
// callbacks, the server-side analog of multi-tab synchronization over a
// shared browser store. It also owns the flush-on-hide and flush-on-unload
// hooks that protect pending writes when the process is about to stop.
package tabsync

import (
	"context"
	"hash/fnv"
	"runtime/debug"
	"sync"

	"github.com/platinummonkey/leadstore/pkg/observability"
	"github.com/platinummonkey/leadstore/pkg/schema"
	"github.com/platinummonkey/leadstore/pkg/sealed"
	"github.com/platinummonkey/leadstore/pkg/store"
	"github.com/platinummonkey/leadstore/pkg/txn"
)

// Update describes one observed change to a key. Envelope is nil when the
// payload was not a version envelope (legacy value, removal, or sealed
// ciphertext).
type Update struct {
	Key      string
	Envelope *schema.Envelope
	Raw      []byte
	Removed  bool
	Remote   bool
}

// Callback receives updates for one registered key. Callbacks run on the
// dispatcher goroutine and must not block.
type Callback func(Update)

// Dispatcher fans change events out to callbacks keyed by storage key. Local
// commits arrive through the writer's post-commit hook; remote changes arrive
// through the store's watch channel when the backend supports one. A local
// write echoed back by the backend is suppressed so callbacks see each change
// once, like a browser tab that never receives its own storage event.
type Dispatcher struct {
	st     store.Store
	writer *txn.Writer
	log    *observability.Logger

	mu        sync.Mutex
	subs      map[string]map[int]Callback
	nextID    int
	lastLocal map[string]uint64
	cancel    context.CancelFunc
}

// NewDispatcher creates a sync dispatcher over st and writer.
func NewDispatcher(st store.Store, writer *txn.Writer, log *observability.Logger) *Dispatcher {
	if log == nil {
		log = observability.Nop()
	}
	d := &Dispatcher{
		st:        st,
		writer:    writer,
		log:       log.Component("tabsync"),
		subs:      make(map[string]map[int]Callback),
		lastLocal: make(map[string]uint64),
	}
	writer.OnCommit(d.onLocalCommit)
	return d
}

// Start begins consuming the store's change feed, when the backend has one.
// Backends without a Watcher still get local commit dispatch.
func (d *Dispatcher) Start(ctx context.Context) error {
	watcher, ok := d.st.(store.Watcher)
	if !ok {
		d.log.Debug("store has no change feed; remote sync disabled")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	events, err := watcher.Watch(ctx)
	if err != nil {
		cancel()
		return err
	}
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Errorf("panic in sync loop: %v\n%s", r, debug.Stack())
			}
		}()
		for ev := range events {
			d.onRemoteChange(ev)
		}
	}()
	return nil
}

// Stop tears down the change feed consumer.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Register subscribes a callback to changes for key and returns an
// unregister function.
func (d *Dispatcher) Register(key string, cb Callback) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.subs[key] == nil {
		d.subs[key] = make(map[int]Callback)
	}
	id := d.nextID
	d.nextID++
	d.subs[key][id] = cb

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs[key], id)
	}
}

// Hide triggers a non-blocking full flush of pending writes, for use when
// the application surface becomes hidden but the process keeps running.
func (d *Dispatcher) Hide(ctx context.Context) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Errorf("panic in hide flush: %v\n%s", r, debug.Stack())
			}
		}()
		if err := d.writer.Flush(ctx); err != nil {
			d.log.WithError(err).Warn("hide flush did not complete")
		}
	}()
}

// Unload performs a best-effort synchronous flush of the last pending write
// per key, bypassing the queue and retry machinery. Call it when the process
// is being torn down and the async queues cannot be trusted to finish.
func (d *Dispatcher) Unload() {
	d.writer.SyncNow()
}

func (d *Dispatcher) onLocalCommit(key string, data []byte) {
	d.mu.Lock()
	d.lastLocal[key] = payloadHash(data)
	d.mu.Unlock()
	d.dispatch(Update{Key: key, Raw: data, Envelope: parseEnvelope(data)})
}

func (d *Dispatcher) onRemoteChange(ev store.ChangeEvent) {
	if !ev.Removed {
		d.mu.Lock()
		last, ok := d.lastLocal[ev.Key]
		d.mu.Unlock()
		if ok && last == payloadHash(ev.NewValue) {
			// Our own write echoed back by the backend.
			return
		}
	}

	update := Update{Key: ev.Key, Raw: ev.NewValue, Removed: ev.Removed, Remote: true}
	if !ev.Removed {
		update.Envelope = parseEnvelope(ev.NewValue)
		if update.Envelope == nil && !sealed.IsSealed(ev.NewValue) {
			// Malformed update from another writer: log and deliver raw so
			// the subscriber can decide, but never crash this process.
			d.log.WithKey(ev.Key).Warn("unparsable remote update")
		}
	}
	d.dispatch(update)
}

func (d *Dispatcher) dispatch(update Update) {
	d.mu.Lock()
	var cbs []Callback
	for _, cb := range d.subs[update.Key] {
		cbs = append(cbs, cb)
	}
	d.mu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.WithKey(update.Key).Errorf("panic in sync callback: %v", r)
				}
			}()
			cb(update)
		}()
	}
}

func parseEnvelope(data []byte) *schema.Envelope {
	if data == nil || sealed.IsSealed(data) {
		return nil
	}
	env, ok := schema.ParseEnvelope(data)
	if !ok {
		return nil
	}
	return env
}

func payloadHash(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// Package engine ties the storage layers together: the quota monitor, the
// transactional writer, the schema registry, the migration engine, and the
// validation/repair engine, composed by a load orchestrator that turns
// whatever is on disk into usable, current-version data. The StoreEngine is
// constructed once per process and injected into consumers; there is no
// ambient singleton state.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/leadstore/pkg/migrate"
	"github.com/platinummonkey/leadstore/pkg/notify"
	"github.com/platinummonkey/leadstore/pkg/observability"
	"github.com/platinummonkey/leadstore/pkg/quota"
	"github.com/platinummonkey/leadstore/pkg/schema"
	"github.com/platinummonkey/leadstore/pkg/sealed"
	"github.com/platinummonkey/leadstore/pkg/store"
	"github.com/platinummonkey/leadstore/pkg/tabsync"
	"github.com/platinummonkey/leadstore/pkg/txn"
	"github.com/platinummonkey/leadstore/pkg/validate"
)

// Defaults for the load snapshot cache.
const (
	DefaultCacheSize = 32
	DefaultCacheTTL  = 5 * time.Minute
)

// Sanitizer is an entity-specific cleanup hook run between migration and
// validation. Sanitizer errors are recorded as warnings, never failures.
type Sanitizer func(value any) (any, error)

// Config tunes a StoreEngine and its internal collaborators.
type Config struct {
	Quota     quota.Config
	Txn       txn.Config
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Quota:     quota.DefaultConfig(),
		Txn:       txn.DefaultConfig(),
		CacheSize: DefaultCacheSize,
		CacheTTL:  DefaultCacheTTL,
	}
}

// StoreEngine is the process-wide persistence engine. All collaborators are
// injected at construction; Init and Shutdown bracket its lifecycle.
type StoreEngine struct {
	st       store.Store
	cipher   sealed.Cipher
	notifier notify.Notifier
	log      *observability.Logger
	cfg      Config

	registry   *schema.Registry
	monitor    *quota.Monitor
	writer     *txn.Writer
	migrator   *migrate.Engine
	dispatcher *tabsync.Dispatcher
	metrics    *Metrics
	tracer     trace.Tracer
	cache      *expirable.LRU[string, []byte]

	mu          sync.Mutex
	sanitizers  map[string]Sanitizer
	unregisters []func()
	closed      bool
}

// New creates a StoreEngine over st. The cipher may be sealed.Noop{}, the
// notifier may be notify.Discard, and promRegistry may be nil to disable
// metrics. Call Init before use.
func New(st store.Store, cipher sealed.Cipher, notifier notify.Notifier, log *observability.Logger, promRegistry *prometheus.Registry, cfg Config) *StoreEngine {
	if cipher == nil {
		cipher = sealed.Noop{}
	}
	if notifier == nil {
		notifier = notify.Discard
	}
	if log == nil {
		log = observability.Nop()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	var engineMetrics *Metrics
	var txnMetrics *txn.Metrics
	var quotaMetrics *quota.Metrics
	if promRegistry != nil {
		engineMetrics = NewMetrics(promRegistry)
		txnMetrics = txn.NewMetrics(promRegistry)
		quotaMetrics = quota.NewMetrics(promRegistry)
	}

	monitor := quota.NewMonitor(st, cfg.Quota, quotaMetrics)
	writer := txn.NewWriter(st, monitor, cipher, cfg.Txn, log, txnMetrics)

	e := &StoreEngine{
		st:         st,
		cipher:     cipher,
		notifier:   notifier,
		log:        log.Component("engine"),
		cfg:        cfg,
		registry:   schema.NewRegistry(),
		monitor:    monitor,
		writer:     writer,
		migrator:   migrate.NewEngine(st, log),
		dispatcher: tabsync.NewDispatcher(st, writer, log),
		metrics:    engineMetrics,
		tracer:     otel.Tracer("github.com/platinummonkey/leadstore/pkg/engine"),
		cache:      expirable.NewLRU[string, []byte](cfg.CacheSize, nil, cfg.CacheTTL),
		sanitizers: make(map[string]Sanitizer),
	}
	return e
}

// Init seeds the quota tracker from a full scan and starts the cross-process
// sync feed. Remote changes to registered keys invalidate the snapshot cache.
func (e *StoreEngine) Init(ctx context.Context) error {
	total, err := e.monitor.Scan(ctx)
	if err != nil {
		return fmt.Errorf("initial usage scan failed: %w", err)
	}
	e.monitor.SetTracked(total)
	e.log.Infof("tracked usage seeded at %d bytes", total)

	if err := e.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sync feed: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, key := range e.registry.Keys() {
		key := key
		unregister := e.dispatcher.Register(key, func(u tabsync.Update) {
			if u.Remote {
				e.cache.Remove(u.Key)
			}
		})
		e.unregisters = append(e.unregisters, unregister)
	}
	return nil
}

// Shutdown drains pending writes and releases the store. The context bounds
// the graceful drain; on expiry the remaining work is force-flushed.
func (e *StoreEngine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	unregisters := e.unregisters
	e.unregisters = nil
	e.mu.Unlock()

	for _, fn := range unregisters {
		fn()
	}
	e.dispatcher.Stop()

	drainErr := e.writer.Shutdown(ctx)
	if err := e.st.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return drainErr
}

// Registry exposes the schema registry for read-only consumers.
func (e *StoreEngine) Registry() *schema.Registry { return e.registry }

// Monitor exposes the quota monitor for reconcile jobs and the admin surface.
func (e *StoreEngine) Monitor() *quota.Monitor { return e.monitor }

// Writer exposes the transactional writer.
func (e *StoreEngine) Writer() *txn.Writer { return e.writer }

// Dispatcher exposes the sync dispatcher for callback registration.
func (e *StoreEngine) Dispatcher() *tabsync.Dispatcher { return e.dispatcher }

// Store exposes the underlying store for the admin surface.
func (e *StoreEngine) Store() store.Store { return e.st }

// RegisterSanitizer installs an entity-specific cleanup hook for key, run by
// Load between migration and validation.
func (e *StoreEngine) RegisterSanitizer(key string, fn Sanitizer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sanitizers[key] = fn
}

// Save wraps value in a current-version envelope and enqueues the write. The
// returned transaction is queued, not durable.
func (e *StoreEngine) Save(key string, value any) (*txn.Transaction, error) {
	env, err := e.wrap(key, value)
	if err != nil {
		return nil, err
	}
	return e.writer.Enqueue(key, env, e.saveOptions(key))
}

// SaveAwait wraps value in a current-version envelope and blocks until the
// write is committed or permanently rejected.
func (e *StoreEngine) SaveAwait(ctx context.Context, key string, value any) error {
	env, err := e.wrap(key, value)
	if err != nil {
		return err
	}
	return e.writer.EnqueueAwait(ctx, key, env, e.saveOptions(key))
}

func (e *StoreEngine) wrap(key string, value any) (schema.Envelope, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return schema.Envelope{}, fmt.Errorf("failed to serialize value for %s: %w", key, err)
	}
	integrity := validate.CheckIntegrity(value, len(data))
	if !integrity.OK {
		return schema.Envelope{}, fmt.Errorf("%w: %v", ErrCorruptionDetected, integrity.Critical)
	}
	e.cache.Remove(key)
	return e.registry.Wrap(data, key), nil
}

func (e *StoreEngine) saveOptions(key string) txn.Options {
	return txn.Options{
		OnQuotaExceeded: func(key string, size int64) {
			e.notifier.Notify(fmt.Sprintf(
				"storage is full: a %d byte write to %s was rejected", size, key),
				notify.SeverityError)
		},
	}
}

// Backup snapshots the current value of key to its shadow backup key.
func (e *StoreEngine) Backup(key string) error {
	return e.migrator.Backup(key)
}

// RestoreBackup restores key from its shadow backup key verbatim.
func (e *StoreEngine) RestoreBackup(key string) error {
	if err := e.migrator.Rollback(key); err != nil {
		return err
	}
	e.cache.Remove(key)
	return nil
}

// Remove deletes key and its cached snapshot, keeping usage accounting in
// step.
func (e *StoreEngine) Remove(key string) error {
	old, err := e.st.Get(key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to read %s before removal: %w", key, err)
	}
	if err := e.st.Remove(key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	e.monitor.Apply(-int64(len(old)))
	e.cache.Remove(key)
	return nil
}

// EngineSnapshot is a point-in-time diagnostic view for the admin surface.
type EngineSnapshot struct {
	Keys          []string `json:"keys"`
	TrackedUsage  int64    `json:"trackedUsage"`
	PendingWrites int      `json:"pendingWrites"`
	CachedLoads   int      `json:"cachedLoads"`
}

// Snapshot reports current keys, usage, and queue depth.
func (e *StoreEngine) Snapshot() (EngineSnapshot, error) {
	keys, err := e.st.Keys()
	if err != nil {
		return EngineSnapshot{}, fmt.Errorf("failed to enumerate keys: %w", err)
	}
	return EngineSnapshot{
		Keys:          keys,
		TrackedUsage:  e.monitor.TrackedUsage(),
		PendingWrites: e.writer.PendingCount(),
		CachedLoads:   e.cache.Len(),
	}, nil
}

// CachedLoad returns the serialized result of the last successful Load for
// key, when still cached.
func (e *StoreEngine) CachedLoad(key string) ([]byte, bool) {
	return e.cache.Get(key)
}

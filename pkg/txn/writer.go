package txn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/leadstore/pkg/observability"
	"github.com/platinummonkey/leadstore/pkg/quota"
	"github.com/platinummonkey/leadstore/pkg/schema"
	"github.com/platinummonkey/leadstore/pkg/sealed"
	"github.com/platinummonkey/leadstore/pkg/store"
)

var (
	// ErrCapacityExceeded means the write would exceed the storage quota.
	// Capacity failures are never retried.
	ErrCapacityExceeded = errors.New("txn: capacity exceeded")
	// ErrRetriesExhausted means a transient failure persisted through every
	// retry attempt.
	ErrRetriesExhausted = errors.New("txn: retries exhausted")
	// ErrSuperseded resolves transactions dropped in favor of a later write
	// to the same key during an emergency flush.
	ErrSuperseded = errors.New("txn: superseded by a later write")
	// ErrClosed is returned by enqueue operations after Shutdown.
	ErrClosed = errors.New("txn: writer closed")
)

// Defaults for retry behavior.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 300 * time.Millisecond
)

// Config holds writer-wide defaults for retry behavior.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultConfig returns the default writer configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
	}
}

// Options configures one transaction.
type Options struct {
	// CreateBackup snapshots the current value to the key's backup key
	// before the write.
	CreateBackup bool
	// MaxRetries and BaseDelay override the writer defaults when positive.
	MaxRetries int
	BaseDelay  time.Duration
	// OnQuotaExceeded is invoked when the write is rejected for capacity.
	OnQuotaExceeded func(key string, size int64)
	// OnError is invoked when the write fails permanently for any other
	// reason.
	OnError func(key string, err error)
}

// Transaction is one queued write intent. It is owned by its per-key queue
// from enqueue until it is executed or superseded.
type Transaction struct {
	Key       string
	Value     any
	Timestamp time.Time
	Attempts  int

	opts Options
	done chan error
}

// CommitListener observes committed writes. The payload is the serialized
// (pre-encryption) value.
type CommitListener func(key string, data []byte)

type keyQueue struct {
	pending  []*Transaction
	draining bool
}

// Writer serializes all writes to a given key through a per-key FIFO queue,
// applying quota gating, retry with exponential backoff, optional pre-write
// backup, and optional encryption. Writes to different keys are independent.
type Writer struct {
	st      store.Store
	monitor *quota.Monitor
	cipher  sealed.Cipher
	cfg     Config
	log     *observability.Logger
	metrics *Metrics

	mu     sync.Mutex
	queues map[string]*keyQueue
	closed bool
	drains sync.WaitGroup

	listenerMu sync.RWMutex
	listeners  []CommitListener
}

// NewWriter creates a transactional writer. The cipher may be sealed.Noop{}
// and metrics may be nil.
func NewWriter(st store.Store, monitor *quota.Monitor, cipher sealed.Cipher, cfg Config, log *observability.Logger, metrics *Metrics) *Writer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cipher == nil {
		cipher = sealed.Noop{}
	}
	if log == nil {
		log = observability.Nop()
	}
	return &Writer{
		st:      st,
		monitor: monitor,
		cipher:  cipher,
		cfg:     cfg,
		log:     log.Component("txn"),
		metrics: metrics,
		queues:  make(map[string]*keyQueue),
	}
}

// OnCommit registers a listener for committed writes. Listeners run on the
// drain goroutine and must not block.
func (w *Writer) OnCommit(fn CommitListener) {
	w.listenerMu.Lock()
	defer w.listenerMu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Enqueue posts a write and returns immediately. The returned transaction is
// "enqueued", not durable; use EnqueueAwait before any operation where data
// loss is unacceptable.
func (w *Writer) Enqueue(key string, value any, opts Options) (*Transaction, error) {
	return w.enqueue(key, value, opts)
}

// EnqueueAwait posts a write and blocks until it is committed, permanently
// rejected, or ctx is done. This is the durability-critical entry point.
func (w *Writer) EnqueueAwait(ctx context.Context, key string, value any, opts Options) error {
	tx, err := w.enqueue(key, value, opts)
	if err != nil {
		return err
	}
	select {
	case err := <-tx.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) enqueue(key string, value any, opts Options) (*Transaction, error) {
	tx := &Transaction{
		Key:       key,
		Value:     value,
		Timestamp: time.Now(),
		opts:      opts,
		done:      make(chan error, 1),
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	q := w.queues[key]
	if q == nil {
		q = &keyQueue{}
		w.queues[key] = q
	}
	q.pending = append(q.pending, tx)
	if w.metrics != nil {
		w.metrics.QueueDepth.Inc()
	}
	// A running drain picks up appended work; only start one when idle.
	start := !q.draining
	if start {
		q.draining = true
		w.drains.Add(1)
	}
	w.mu.Unlock()

	if start {
		go w.drain(key, q)
	}
	return tx, nil
}

// drain processes a per-key queue until empty. Exactly one drain runs per
// key at a time, which is what makes same-key writes strictly FIFO.
func (w *Writer) drain(key string, q *keyQueue) {
	defer w.drains.Done()
	defer func() {
		if r := recover(); r != nil {
			w.log.WithKey(key).Errorf("panic in drain: %v\n%s", r, debug.Stack())
			w.mu.Lock()
			q.draining = false
			w.mu.Unlock()
		}
	}()

	for {
		w.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			w.mu.Unlock()
			return
		}
		tx := q.pending[0]
		q.pending = q.pending[1:]
		w.mu.Unlock()

		w.execute(tx)
		if w.metrics != nil {
			w.metrics.QueueDepth.Dec()
		}
	}
}

// execute runs one transaction through a bounded retry loop. Capacity and
// encryption failures are terminal; everything else retries with exponential
// backoff until the attempt ceiling.
func (w *Writer) execute(tx *Transaction) {
	maxRetries := tx.opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = w.cfg.MaxRetries
	}
	baseDelay := tx.opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = w.cfg.BaseDelay
	}

	for {
		err := w.commit(tx)
		if err == nil {
			tx.done <- nil
			return
		}

		if errors.Is(err, ErrCapacityExceeded) {
			// Quota rejections are never retried.
			w.log.WithKey(tx.Key).WithError(err).Warn("write rejected: capacity exceeded")
			if w.metrics != nil {
				w.metrics.Rejections.WithLabelValues("capacity").Inc()
			}
			tx.done <- err
			return
		}
		if errors.Is(err, sealed.ErrNoKey) {
			// Never fall back to plaintext for a sensitive key.
			w.log.WithKey(tx.Key).WithError(err).Error("write rejected: encryption unavailable")
			if w.metrics != nil {
				w.metrics.Rejections.WithLabelValues("encryption").Inc()
			}
			if tx.opts.OnError != nil {
				tx.opts.OnError(tx.Key, err)
			}
			tx.done <- err
			return
		}

		if tx.Attempts >= maxRetries {
			final := fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, tx.Attempts+1, err)
			w.log.WithKey(tx.Key).WithError(final).Error("write failed permanently")
			if w.metrics != nil {
				w.metrics.Rejections.WithLabelValues("exhausted").Inc()
			}
			if tx.opts.OnError != nil {
				tx.opts.OnError(tx.Key, final)
			}
			tx.done <- final
			return
		}

		delay := baseDelay * (1 << tx.Attempts)
		tx.Attempts++
		if w.metrics != nil {
			w.metrics.Retries.Inc()
		}
		w.log.WithKey(tx.Key).WithError(err).Warnf("write failed, retry %d in %s", tx.Attempts, delay)
		time.Sleep(delay)
	}
}

// commit executes the write sequence for one attempt: serialize, quota gate,
// optional backup, optional encryption, store, size accounting, fan-out.
func (w *Writer) commit(tx *Transaction) error {
	start := time.Now()

	data, err := serialize(tx.Value)
	if err != nil {
		// Serialization failures cannot heal on retry; surface as terminal
		// via the capacity-free path with exhausted retries short-circuited.
		return fmt.Errorf("%w: failed to serialize value: %v", ErrRetriesExhausted, err)
	}
	size := int64(len(data))

	var oldSize int64
	old, err := w.st.Get(tx.Key)
	switch {
	case err == nil:
		oldSize = int64(len(old))
	case errors.Is(err, store.ErrNotFound):
	default:
		return fmt.Errorf("failed to read current value for %s: %w", tx.Key, err)
	}

	if w.monitor != nil {
		check := w.monitor.Check(context.Background(), size-oldSize)
		if !check.WithinLimit {
			if tx.opts.OnQuotaExceeded != nil {
				tx.opts.OnQuotaExceeded(tx.Key, size)
			}
			return fmt.Errorf("%w: write of %d bytes would use %.0f%% of %d byte limit",
				ErrCapacityExceeded, size, check.PercentUsed*100, check.Limit)
		}
	}

	if tx.opts.CreateBackup && old != nil {
		backupKey := schema.BackupKey(tx.Key)
		var prevBackupSize int64
		if prev, err := w.st.Get(backupKey); err == nil {
			prevBackupSize = int64(len(prev))
		}
		if err := w.st.Set(backupKey, old); err != nil {
			// A failed backup is a warning, not a blocked write.
			w.log.WithKey(tx.Key).WithError(err).Warn("pre-write backup failed")
		} else if w.monitor != nil {
			w.monitor.Apply(int64(len(old)) - prevBackupSize)
		}
	}

	payload := data
	if w.cipher.IsSensitive(tx.Key) {
		if !w.cipher.HasKey() {
			return sealed.ErrNoKey
		}
		payload, err = w.cipher.Encrypt(data)
		if err != nil {
			return fmt.Errorf("encryption failed for %s: %w", tx.Key, err)
		}
	}

	if err := w.st.Set(tx.Key, payload); err != nil {
		return fmt.Errorf("commit failed for %s: %w", tx.Key, err)
	}

	if w.monitor != nil {
		w.monitor.Apply(int64(len(payload)) - oldSize)
	}
	if w.metrics != nil {
		w.metrics.Commits.Inc()
		w.metrics.CommitDuration.Observe(time.Since(start).Seconds())
	}

	w.fanout(tx.Key, data)
	return nil
}

func (w *Writer) fanout(key string, data []byte) {
	w.listenerMu.RLock()
	listeners := append([]CommitListener(nil), w.listeners...)
	w.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(key, data)
	}
}

// PendingCount returns the number of queued transactions across all keys.
func (w *Writer) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, q := range w.queues {
		n += len(q.pending)
		if q.draining {
			n++
		}
	}
	return n
}

// Flush blocks until every queue has drained or ctx is done.
func (w *Writer) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		w.mu.Lock()
		idle := true
		for _, q := range w.queues {
			if len(q.pending) > 0 || q.draining {
				idle = false
				break
			}
		}
		w.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SyncNow performs a best-effort synchronous flush: for every key with
// pending work, only the last queued transaction is committed, directly and
// without retry or backoff; earlier transactions resolve with ErrSuperseded.
// This is the unload path, where an async queue cannot be trusted to finish.
func (w *Writer) SyncNow() {
	w.mu.Lock()
	work := make(map[string][]*Transaction)
	for key, q := range w.queues {
		if len(q.pending) == 0 {
			continue
		}
		work[key] = q.pending
		q.pending = nil
	}
	w.mu.Unlock()

	for key, txs := range work {
		last := txs[len(txs)-1]
		for _, tx := range txs[:len(txs)-1] {
			tx.done <- ErrSuperseded
			if w.metrics != nil {
				w.metrics.QueueDepth.Dec()
			}
		}
		if err := w.commit(last); err != nil {
			w.log.WithKey(key).WithError(err).Error("emergency flush failed")
			last.done <- err
		} else {
			last.done <- nil
		}
		if w.metrics != nil {
			w.metrics.QueueDepth.Dec()
		}
	}
}

// Shutdown stops accepting work and drains gracefully; when ctx expires
// before the queues empty, the remaining work is flushed with SyncNow.
func (w *Writer) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	if err := w.Flush(ctx); err != nil {
		w.log.WithError(err).Warn("graceful drain timed out, forcing sync flush")
		w.SyncNow()
		return err
	}
	return nil
}

func serialize(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(value)
	}
}

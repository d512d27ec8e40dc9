package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/leadstore/pkg/store"
)

// Defaults for the monitor. The fallback limit mirrors the conservative
// per-origin budget of embedded browser stores.
const (
	DefaultFallbackLimit    = 5 << 20 // 5MB
	DefaultEstimateTTL      = 5 * time.Minute
	DefaultReconcileMinGap  = 30 * time.Second
	DefaultDriftThreshold   = 1 << 10 // 1KB
	DefaultWarningThreshold = 0.9
)

// Snapshot is one cached quota estimate.
type Snapshot struct {
	Quota     store.Quota
	Timestamp time.Time
}

// CheckResult is the outcome of a pre-write capacity check. Checks never
// fail; when no estimate is available the fallback limit applies.
type CheckResult struct {
	WithinLimit bool
	PercentUsed float64
	Limit       int64
	Usage       int64
}

// Config tunes a Monitor.
type Config struct {
	// FallbackLimit applies when the backend cannot report quota.
	FallbackLimit int64
	// EstimateTTL is the freshness window of a cached estimate.
	EstimateTTL time.Duration
	// ReconcileMinGap is the minimum interval between full rescans.
	ReconcileMinGap time.Duration
	// DriftThreshold is the tracked-vs-actual divergence, in bytes, above
	// which a reconcile corrects the tracked total.
	DriftThreshold int64
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		FallbackLimit:   DefaultFallbackLimit,
		EstimateTTL:     DefaultEstimateTTL,
		ReconcileMinGap: DefaultReconcileMinGap,
		DriftThreshold:  DefaultDriftThreshold,
	}
}

// Monitor estimates usage and remaining capacity of a store. It keeps a
// cheap incrementally-tracked byte total for the write hot path and an
// asynchronous backend estimate behind a freshness window, with a periodic
// reconcile pass to heal drift between the two.
type Monitor struct {
	st      store.Store
	cfg     Config
	metrics *Metrics

	group singleflight.Group

	mu            sync.Mutex
	cached        *Snapshot
	tracked       int64
	lastReconcile time.Time
}

// NewMonitor creates a quota monitor over st. Metrics may be nil.
func NewMonitor(st store.Store, cfg Config, metrics *Metrics) *Monitor {
	if cfg.FallbackLimit <= 0 {
		cfg.FallbackLimit = DefaultFallbackLimit
	}
	if cfg.EstimateTTL <= 0 {
		cfg.EstimateTTL = DefaultEstimateTTL
	}
	if cfg.ReconcileMinGap <= 0 {
		cfg.ReconcileMinGap = DefaultReconcileMinGap
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = DefaultDriftThreshold
	}
	return &Monitor{st: st, cfg: cfg, metrics: metrics}
}

// Estimate returns the backend-reported quota, cached for the freshness
// window. Concurrent callers share one backend call. Returns nil when the
// backend cannot report quota.
func (m *Monitor) Estimate(ctx context.Context) *Snapshot {
	m.mu.Lock()
	if m.cached != nil && time.Since(m.cached.Timestamp) < m.cfg.EstimateTTL {
		snap := *m.cached
		m.mu.Unlock()
		return &snap
	}
	m.mu.Unlock()

	reporter, ok := m.st.(store.QuotaReporter)
	if !ok {
		return nil
	}

	v, err, _ := m.group.Do("estimate", func() (any, error) {
		q, err := reporter.EstimateQuota(ctx)
		if err != nil {
			return nil, err
		}
		snap := &Snapshot{Quota: q, Timestamp: time.Now()}
		m.mu.Lock()
		m.cached = snap
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.QuotaLimitBytes.Set(float64(q.Limit))
			m.metrics.QuotaUsageBytes.Set(float64(q.Usage))
		}
		return snap, nil
	})
	if err != nil {
		return nil
	}
	snap := *(v.(*Snapshot))
	return &snap
}

// TrackedUsage returns the incrementally maintained byte total.
func (m *Monitor) TrackedUsage() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracked
}

// Apply adjusts the tracked total by a size delta (newSize - oldSize). It is
// called on every commit and removal, avoiding a full rescan on the hot path.
func (m *Monitor) Apply(delta int64) {
	m.mu.Lock()
	m.tracked += delta
	if m.tracked < 0 {
		m.tracked = 0
	}
	tracked := m.tracked
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.TrackedUsageBytes.Set(float64(tracked))
	}
}

// SetTracked seeds the tracked total, typically from an initial scan at
// engine startup.
func (m *Monitor) SetTracked(total int64) {
	m.mu.Lock()
	m.tracked = total
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.TrackedUsageBytes.Set(float64(total))
	}
}

// Check reports whether a write of size bytes fits within the limit, and the
// percentage of capacity that would be used. It never returns an error: with
// no backend estimate the fallback limit applies, and usage comes from the
// cheap tracked total.
func (m *Monitor) Check(ctx context.Context, size int64) CheckResult {
	limit := m.cfg.FallbackLimit
	usage := m.TrackedUsage()

	if snap := m.Estimate(ctx); snap != nil {
		limit = snap.Quota.Limit
		if snap.Quota.Usage > usage {
			usage = snap.Quota.Usage
		}
	}

	projected := usage + size
	result := CheckResult{
		WithinLimit: projected <= limit,
		Limit:       limit,
		Usage:       usage,
	}
	if limit > 0 {
		result.PercentUsed = float64(projected) / float64(limit)
	}
	return result
}

// Reconcile performs a full key scan to correct drift between the tracked
// total and ground truth, at most once per the configured interval. It
// returns the measured drift in bytes, zero when skipped or within the
// threshold.
func (m *Monitor) Reconcile(ctx context.Context) (int64, error) {
	m.mu.Lock()
	if time.Since(m.lastReconcile) < m.cfg.ReconcileMinGap {
		m.mu.Unlock()
		return 0, nil
	}
	m.lastReconcile = time.Now()
	m.mu.Unlock()

	actual, err := m.Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("quota reconcile scan failed: %w", err)
	}

	m.mu.Lock()
	drift := actual - m.tracked
	healed := false
	if drift < -m.cfg.DriftThreshold || drift > m.cfg.DriftThreshold {
		m.tracked = actual
		healed = true
	}
	m.mu.Unlock()

	if healed {
		if m.metrics != nil {
			m.metrics.ReconcileCorrections.Inc()
			m.metrics.TrackedUsageBytes.Set(float64(actual))
		}
		return drift, nil
	}
	return 0, nil
}

// Scan measures actual usage by summing the size of every stored value.
func (m *Monitor) Scan(ctx context.Context) (int64, error) {
	keys, err := m.st.Keys()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		value, err := m.st.Get(key)
		if err != nil {
			continue
		}
		total += int64(len(value)) + int64(len(key))
	}
	return total, nil
}

// Invalidate drops the cached estimate, forcing the next Estimate to hit the
// backend.
func (m *Monitor) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

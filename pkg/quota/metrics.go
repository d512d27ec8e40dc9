package quota

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the monitor's Prometheus instruments.
type Metrics struct {
	QuotaLimitBytes      prometheus.Gauge
	QuotaUsageBytes      prometheus.Gauge
	TrackedUsageBytes    prometheus.Gauge
	ReconcileCorrections prometheus.Counter
}

// NewMetrics creates and registers the quota metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		QuotaLimitBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leadstore_quota_limit_bytes",
			Help: "Backend-reported capacity ceiling in bytes",
		}),
		QuotaUsageBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leadstore_quota_usage_bytes",
			Help: "Backend-reported usage in bytes",
		}),
		TrackedUsageBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leadstore_tracked_usage_bytes",
			Help: "Incrementally tracked usage total in bytes",
		}),
		ReconcileCorrections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leadstore_quota_reconcile_corrections_total",
			Help: "Times a reconcile pass corrected tracked usage drift",
		}),
	}

	if registry != nil {
		registry.MustRegister(
			m.QuotaLimitBytes,
			m.QuotaUsageBytes,
			m.TrackedUsageBytes,
			m.ReconcileCorrections,
		)
	}
	return m
}

package txn

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the writer's Prometheus instruments.
type Metrics struct {
	QueueDepth     prometheus.Gauge
	Commits        prometheus.Counter
	Retries        prometheus.Counter
	Rejections     *prometheus.CounterVec
	CommitDuration prometheus.Histogram
}

// NewMetrics creates and registers the writer metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leadstore_txn_queue_depth",
			Help: "Transactions queued or in flight across all keys",
		}),
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leadstore_txn_commits_total",
			Help: "Total committed writes",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leadstore_txn_retries_total",
			Help: "Total write retry attempts",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadstore_txn_rejections_total",
			Help: "Permanently rejected writes by reason",
		}, []string{"reason"}),
		CommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leadstore_txn_commit_duration_seconds",
			Help:    "Commit latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if registry != nil {
		registry.MustRegister(
			m.QueueDepth,
			m.Commits,
			m.Retries,
			m.Rejections,
			m.CommitDuration,
		)
	}
	return m
}

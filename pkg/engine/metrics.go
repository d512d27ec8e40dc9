package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus instruments.
type Metrics struct {
	Loads        *prometheus.CounterVec
	Migrations   prometheus.Counter
	Repairs      prometheus.Counter
	Recoveries   prometheus.Counter
	Fallbacks    prometheus.Counter
	LoadDuration prometheus.Histogram
}

// NewMetrics creates and registers the engine metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadstore_engine_loads_total",
			Help: "Orchestrated loads by outcome",
		}, []string{"outcome"}),
		Migrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leadstore_engine_migrations_total",
			Help: "Successful schema migrations applied during load",
		}),
		Repairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leadstore_engine_repairs_total",
			Help: "Loads that repaired at least one record",
		}),
		Recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leadstore_engine_recoveries_total",
			Help: "Loads recovered from a backup snapshot",
		}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leadstore_engine_fallbacks_total",
			Help: "Loads that fell back to the caller's default value",
		}),
		LoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leadstore_engine_load_duration_seconds",
			Help:    "Load pipeline latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if registry != nil {
		registry.MustRegister(
			m.Loads,
			m.Migrations,
			m.Repairs,
			m.Recoveries,
			m.Fallbacks,
			m.LoadDuration,
		)
	}
	return m
}

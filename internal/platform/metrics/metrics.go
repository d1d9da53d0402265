// Package metrics holds the Prometheus collectors for the pool manager and
// migration runner. The registry is constructed explicitly and injected;
// nothing registers against the global default.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Pool metrics
	PoolConnectionsTotal   *prometheus.GaugeVec
	PoolConnectionsIdle    *prometheus.GaugeVec
	PoolConnectionsActive  *prometheus.GaugeVec
	PoolConnectionsPending *prometheus.GaugeVec
	PoolHealthScore        *prometheus.GaugeVec
	PoolAcquiresTotal      *prometheus.CounterVec
	PoolAcquireTimeouts    *prometheus.CounterVec
	PoolErrorsTotal        *prometheus.CounterVec
	PoolAcquireDuration    *prometheus.HistogramVec

	// Migration metrics
	MigrationsApplied    *prometheus.CounterVec
	MigrationsFailed     *prometheus.CounterVec
	MigrationsRolledBack *prometheus.CounterVec
	MigrationDuration    *prometheus.HistogramVec

	// System metrics (dbmonitor)
	SystemCPUUsage    prometheus.Gauge
	SystemMemoryUsage prometheus.Gauge
}

// New creates a fresh registry with all collectors registered on it
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		PoolConnectionsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_connections_total",
				Help:      "Total number of connections in the pool",
			},
			[]string{"pool"},
		),
		PoolConnectionsIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_connections_idle",
				Help:      "Number of idle connections in the pool",
			},
			[]string{"pool"},
		),
		PoolConnectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_connections_active",
				Help:      "Number of connections currently checked out",
			},
			[]string{"pool"},
		),
		PoolConnectionsPending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_connections_pending",
				Help:      "Number of acquirers waiting on the gate",
			},
			[]string{"pool"},
		),
		PoolHealthScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_health_score",
				Help:      "Derived pool health score in [0,1]",
			},
			[]string{"pool"},
		),
		PoolAcquiresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_acquires_total",
				Help:      "Total number of successful connection acquisitions",
			},
			[]string{"pool"},
		),
		PoolAcquireTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_acquire_timeouts_total",
				Help:      "Total number of acquisitions that timed out on the gate",
			},
			[]string{"pool"},
		),
		PoolErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_errors_total",
				Help:      "Total number of physical connection or health check errors",
			},
			[]string{"pool"},
		),
		PoolAcquireDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pool_acquire_duration_seconds",
				Help:      "Connection acquisition latency in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"pool"},
		),

		MigrationsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migrations_applied_total",
				Help:      "Total number of migrations applied",
			},
			[]string{"environment"},
		),
		MigrationsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migrations_failed_total",
				Help:      "Total number of migrations that failed",
			},
			[]string{"environment"},
		),
		MigrationsRolledBack: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migrations_rolled_back_total",
				Help:      "Total number of migrations rolled back",
			},
			[]string{"environment"},
		),
		MigrationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "migration_duration_seconds",
				Help:      "Migration execution duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"environment", "direction"},
		),

		SystemCPUUsage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_cpu_usage_percent",
				Help:      "Process host CPU usage percentage",
			},
		),
		SystemMemoryUsage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_memory_usage_percent",
				Help:      "Process host memory usage percentage",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.PoolConnectionsTotal,
		m.PoolConnectionsIdle,
		m.PoolConnectionsActive,
		m.PoolConnectionsPending,
		m.PoolHealthScore,
		m.PoolAcquiresTotal,
		m.PoolAcquireTimeouts,
		m.PoolErrorsTotal,
		m.PoolAcquireDuration,
		m.MigrationsApplied,
		m.MigrationsFailed,
		m.MigrationsRolledBack,
		m.MigrationDuration,
		m.SystemCPUUsage,
		m.SystemMemoryUsage,
	)

	return m
}

// Registry exposes the underlying registry for custom collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

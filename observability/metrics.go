package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type programMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	supply     prometheus.Gauge
}

var (
	programMetricsOnce sync.Once
	programRegistry    *programMetrics
)

// Program returns the lazily-initialised metrics registry used to record
// instruction processing activity.
func Program() *programMetrics {
	programMetricsOnce.Do(func() {
		programRegistry = &programMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aprvault",
				Subsystem: "program",
				Name:      "operations_total",
				Help:      "Total processed instructions segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "aprvault",
				Subsystem: "program",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for instruction handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			supply: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "aprvault",
				Subsystem: "treasury",
				Name:      "token_supply",
				Help:      "Current minted token supply in base units.",
			}),
		}
		prometheus.MustRegister(
			programRegistry.operations,
			programRegistry.latency,
			programRegistry.supply,
		)
	})
	return programRegistry
}

// RecordOperation records one processed instruction and its latency.
func (m *programMetrics) RecordOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetSupply publishes the current token supply.
func (m *programMetrics) SetSupply(supply uint64) {
	if m == nil {
		return
	}
	m.supply.Set(float64(supply))
}

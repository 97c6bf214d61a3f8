package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics records escrow operation activity for the /metrics endpoint.
type EscrowMetrics struct {
	operations       *prometheus.CounterVec
	transferFailures *prometheus.CounterVec
	latency          *prometheus.HistogramVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// Metrics returns the lazily-initialised escrow metrics registry.
func Metrics() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrowd",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total escrow engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			transferFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrowd",
				Subsystem: "engine",
				Name:      "transfer_failures_total",
				Help:      "Custody transfer failures segmented by operation.",
			}, []string{"operation"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrowd",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for escrow RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			escrowRegistry.operations,
			escrowRegistry.transferFailures,
			escrowRegistry.latency,
		)
	})
	return escrowRegistry
}

// ObserveOperation records the outcome of an engine operation.
func (m *EscrowMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// ObserveTransferFailure records a custody transfer failure for the operation.
func (m *EscrowMetrics) ObserveTransferFailure(operation string) {
	if m == nil {
		return
	}
	m.transferFailures.WithLabelValues(operation).Inc()
}

// ObserveLatency records the handler duration for the RPC method.
func (m *EscrowMetrics) ObserveLatency(method string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(method).Observe(elapsed.Seconds())
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics tracks lifecycle operation outcomes for the escrow engine.
type EscrowMetrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

// Escrow returns the process-wide escrow metrics collection, registering it on
// first use.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_operations_total",
				Help: "Count of successful escrow lifecycle operations by kind.",
			}, []string{"op"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_operation_failures_total",
				Help: "Count of rejected escrow lifecycle operations by kind.",
			}, []string{"op"}),
		}
		prometheus.MustRegister(
			escrowRegistry.operations,
			escrowRegistry.failures,
		)
	})
	return escrowRegistry
}

// OperationProcessed records one successful lifecycle operation.
func (m *EscrowMetrics) OperationProcessed(op string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op).Inc()
}

// OperationFailed records one rejected lifecycle operation.
func (m *EscrowMetrics) OperationFailed(op string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(op).Inc()
}

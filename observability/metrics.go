package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics records engine operation activity for the RPC surface.
type EscrowMetrics struct {
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// Metrics returns the lazily-initialised escrow metrics registry.
func Metrics() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paylock",
				Subsystem: "escrow",
				Name:      "operations_total",
				Help:      "Total escrow operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paylock",
				Subsystem: "escrow",
				Name:      "failures_total",
				Help:      "Total escrow operation failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "paylock",
				Subsystem: "escrow",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for escrow operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(escrowRegistry.requests, escrowRegistry.failures, escrowRegistry.latency)
	})
	return escrowRegistry
}

// Observe records one operation invocation with its outcome and duration.
func (m *EscrowMetrics) Observe(operation string, err error, started time.Time) {
	if m == nil {
		return
	}
	operation = strings.TrimSpace(operation)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.failures.WithLabelValues(operation, reasonLabel(err)).Inc()
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func reasonLabel(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	// Strip the module prefix so the label carries the failure reason only.
	if idx := strings.Index(msg, ": "); idx > 0 {
		msg = msg[idx+2:]
	}
	if idx := strings.Index(msg, ": "); idx > 0 {
		msg = msg[:idx]
	}
	msg = strings.ReplaceAll(msg, " ", "_")
	if len(msg) > 48 {
		msg = msg[:48]
	}
	return msg
}

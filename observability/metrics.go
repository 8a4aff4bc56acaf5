package observability

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// JSON-RPC activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrow",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the per-sender rate limit.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a JSON-RPC request. code is the JSON-RPC
// error code, zero on success.
func (m *moduleMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// EscrowMetrics tracks applied escrow transactions and the pool balance.
type EscrowMetrics struct {
	txs         *prometheus.CounterVec
	txLatency   *prometheus.HistogramVec
	events      *prometheus.CounterVec
	poolBalance prometheus.Gauge
}

// Escrow returns the singleton escrow metrics registry.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			txs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Name:      "tx_total",
				Help:      "Count of escrow transactions segmented by type and outcome kind.",
			}, []string{"type", "outcome"}),
			txLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrow",
				Name:      "tx_duration_seconds",
				Help:      "Latency distribution for applying escrow transactions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"type"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Name:      "events_total",
				Help:      "Count of published ledger events segmented by event type.",
			}, []string{"event"}),
			poolBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "escrow",
				Name:      "pool_balance_wei",
				Help:      "Native balance held by the lending pool.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.txs,
			escrowRegistry.txLatency,
			escrowRegistry.events,
			escrowRegistry.poolBalance,
		)
	})
	return escrowRegistry
}

// ObserveTx records an applied or rejected transaction. outcome is "ok" or the
// failure kind.
func (m *EscrowMetrics) ObserveTx(txType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	txType = strings.TrimSpace(txType)
	if txType == "" {
		txType = "unknown"
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.txs.WithLabelValues(txType, outcome).Inc()
	m.txLatency.WithLabelValues(txType).Observe(duration.Seconds())
}

// RecordEvent counts a published ledger event.
func (m *EscrowMetrics) RecordEvent(eventType string) {
	if m == nil || eventType == "" {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

// SetPoolBalance publishes the pool balance. Values beyond float64 precision
// are approximated.
func (m *EscrowMetrics) SetPoolBalance(balance *uint256.Int) {
	if m == nil || balance == nil {
		return
	}
	f, _ := new(big.Float).SetInt(balance.ToBig()).Float64()
	m.poolBalance.Set(f)
}

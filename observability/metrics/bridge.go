// Package metrics exports Prometheus instrumentation for the dApp connector.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type BridgeMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	approvalsTotal   *prometheus.CounterVec
	rateLimitedTotal *prometheus.CounterVec
	openConnections  prometheus.Gauge
	pendingApprovals prometheus.Gauge
	activeSessions   prometheus.Gauge
}

var (
	bridgeOnce     sync.Once
	bridgeRegistry *BridgeMetrics
)

// Bridge returns the process-wide connector metrics, registering them on
// first use.
func Bridge() *BridgeMetrics {
	bridgeOnce.Do(func() {
		bridgeRegistry = &BridgeMetrics{
			requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "dapp_requests_total",
				Help: "Count of dApp RPC requests by method and outcome.",
			}, []string{"method", "outcome"}),
			requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "dapp_request_duration_seconds",
				Help:    "Wall time spent handling dApp requests, by method.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			}, []string{"method"}),
			approvalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "dapp_approvals_total",
				Help: "Count of approval requests by kind and resolution.",
			}, []string{"kind", "resolution"}),
			rateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "dapp_rate_limited_total",
				Help: "Count of requests refused by the admission limiter, by class.",
			}, []string{"class"}),
			openConnections: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dapp_open_connections",
				Help: "Number of live dApp transport connections.",
			}),
			pendingApprovals: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dapp_pending_approvals",
				Help: "Number of approval requests awaiting a user decision.",
			}),
			activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dapp_active_sessions",
				Help: "Number of live dApp sessions.",
			}),
		}
		prometheus.MustRegister(
			bridgeRegistry.requestsTotal,
			bridgeRegistry.requestDuration,
			bridgeRegistry.approvalsTotal,
			bridgeRegistry.rateLimitedTotal,
			bridgeRegistry.openConnections,
			bridgeRegistry.pendingApprovals,
			bridgeRegistry.activeSessions,
		)
	})
	return bridgeRegistry
}

func (m *BridgeMetrics) ObserveRequest(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, outcome).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *BridgeMetrics) ApprovalResolved(kind, resolution string) {
	if m == nil {
		return
	}
	m.approvalsTotal.WithLabelValues(kind, resolution).Inc()
}

func (m *BridgeMetrics) RateLimited(class string) {
	if m == nil {
		return
	}
	m.rateLimitedTotal.WithLabelValues(class).Inc()
}

func (m *BridgeMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.openConnections.Inc()
}

func (m *BridgeMetrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.openConnections.Dec()
}

func (m *BridgeMetrics) SetPendingApprovals(n int) {
	if m == nil {
		return
	}
	m.pendingApprovals.Set(float64(n))
}

func (m *BridgeMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

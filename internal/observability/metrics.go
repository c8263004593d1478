package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the gateway's Prometheus metrics.
//
// The metrics cover:
//   - Request flow through the translation and dispatch path
//   - Upstream error rates by kind and status
//   - Account pool composition for capacity planning
//   - Token refresh outcomes per auth method
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordRequest("claude-sonnet-4-5", "success", time.Since(start).Seconds())
type Metrics struct {
	// RequestCounter counts gateway requests.
	// Labels: model, status (success|error)
	RequestCounter *prometheus.CounterVec

	// RequestDuration measures end-to-end dispatch latency in seconds.
	// Labels: model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s
	RequestDuration *prometheus.HistogramVec

	// UpstreamErrorCounter counts failed dispatches.
	// Labels: kind (upstream_error|transport_error|token_error|...), status
	UpstreamErrorCounter *prometheus.CounterVec

	// AccountStatus is a gauge of pool composition.
	// Labels: status (active|cooldown|invalid|disabled)
	AccountStatus *prometheus.GaugeVec

	// TokenRefreshCounter counts credential refreshes.
	// Labels: method (social|idc), status (success|error)
	TokenRefreshCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all gateway metrics with the default
// Prometheus registry. Call once at startup; the /metrics endpoint serves
// the registry through the standard promhttp handler.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kirogate_requests_total",
				Help: "Total number of gateway requests by model and status",
			},
			[]string{"model", "status"},
		),

		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kirogate_request_duration_seconds",
				Help:    "End-to-end dispatch latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model"},
		),

		UpstreamErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kirogate_upstream_errors_total",
				Help: "Total number of failed dispatches by error kind and upstream status",
			},
			[]string{"kind", "status"},
		),

		AccountStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kirogate_account_status",
				Help: "Number of accounts in the pool by status",
			},
			[]string{"status"},
		),

		TokenRefreshCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kirogate_token_refreshes_total",
				Help: "Total number of credential refreshes by auth method and status",
			},
			[]string{"method", "status"},
		),
	}
}

// RecordRequest records one completed gateway request.
func (m *Metrics) RecordRequest(model, status string, durationSeconds float64) {
	m.RequestCounter.WithLabelValues(model, status).Inc()
	m.RequestDuration.WithLabelValues(model).Observe(durationSeconds)
}

// RecordUpstreamError counts one failed dispatch.
func (m *Metrics) RecordUpstreamError(kind, status string) {
	m.UpstreamErrorCounter.WithLabelValues(kind, status).Inc()
}

// SetAccountCounts publishes the pool composition.
func (m *Metrics) SetAccountCounts(counts map[string]int) {
	for _, status := range []string{"active", "cooldown", "invalid", "disabled"} {
		m.AccountStatus.WithLabelValues(status).Set(float64(counts[status]))
	}
}

// RecordTokenRefresh counts one refresh attempt outcome.
func (m *Metrics) RecordTokenRefresh(method, status string) {
	m.TokenRefreshCounter.WithLabelValues(method, status).Inc()
}

package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics manages the Prometheus metrics for the auth portal and the
// agent-side token consumer.
type Metrics struct {
	PortalRequests  *prometheus.CounterVec
	ExchangeLatency *prometheus.HistogramVec
	TokenRotations  *prometheus.CounterVec
	RotationErrors  *prometheus.CounterVec
	Revocations     *prometheus.CounterVec
}

// NewMetrics creates and registers the Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		PortalRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_portal_requests_total",
				Help: "Total number of portal requests by route and outcome.",
			},
			[]string{"route", "result"},
		),
		ExchangeLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_oauth_exchange_latency_seconds",
				Help:    "Latency of provider token endpoint calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "grant_type"},
		),
		TokenRotations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_token_rotations_total",
				Help: "Total number of successful refresh token rotations.",
			},
			[]string{"provider"},
		),
		RotationErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_token_rotation_errors_total",
				Help: "Total number of failed refresh exchanges by failure category.",
			},
			[]string{"provider", "category"},
		),
		Revocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_token_revocations_total",
				Help: "Total number of user-initiated revocations.",
			},
			[]string{"provider"},
		),
	}
}

// RecordPortalRequest records a portal request outcome.
func (m *Metrics) RecordPortalRequest(route, result string) {
	m.PortalRequests.WithLabelValues(route, result).Inc()
}

// RecordExchange records the latency of a provider token endpoint call.
func (m *Metrics) RecordExchange(provider, grantType string, duration time.Duration) {
	m.ExchangeLatency.WithLabelValues(provider, grantType).Observe(duration.Seconds())
}

// RecordRotation records a successful refresh token rotation.
func (m *Metrics) RecordRotation(provider string) {
	m.TokenRotations.WithLabelValues(provider).Inc()
}

// RecordRotationError records a failed refresh exchange. Category is
// "permanent" for dead tokens and "transient" for retryable failures.
func (m *Metrics) RecordRotationError(provider, category string) {
	m.RotationErrors.WithLabelValues(provider, category).Inc()
}

// RecordRevocation records a user-initiated revocation.
func (m *Metrics) RecordRevocation(provider string) {
	m.Revocations.WithLabelValues(provider).Inc()
}

// Package metrics exposes Prometheus instrumentation for the movement
// engine and the HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors registered for a single process.
type Metrics struct {
	Movements        *prometheus.CounterVec
	MovementDuration *prometheus.HistogramVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	Registry         *prometheus.Registry
}

// New registers the collectors on a fresh registry so tests can build
// isolated instances.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Movements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_movements_total",
			Help: "Money movements by category and outcome.",
		}, []string{"category", "outcome"}),
		MovementDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallet_movement_duration_seconds",
			Help:    "Movement latency from request to commit.",
			Buckets: prometheus.DefBuckets,
		}, []string{"category"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route, method, and status class.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObserveMovement records one movement attempt.
func (m *Metrics) ObserveMovement(category, outcome string, seconds float64) {
	m.Movements.WithLabelValues(category, outcome).Inc()
	m.MovementDuration.WithLabelValues(category).Observe(seconds)
}

// Package observability registers the service's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors used across the service.
type Metrics struct {
	AssignAttempts     *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	DispatchDeliveries *prometheus.CounterVec
	DriversOnline      prometheus.Gauge
	StoreRetries       prometheus.Counter
	ExpiredRides       prometheus.Counter
	HTTPDuration       *prometheus.HistogramVec
}

// NewMetrics registers collectors on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AssignAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ridehail_assign_attempts_total",
			Help: "Ride acceptance attempts by outcome.",
		}, []string{"result"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ridehail_transitions_total",
			Help: "Applied ride status transitions.",
		}, []string{"from", "to"}),
		DispatchDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ridehail_dispatch_deliveries_total",
			Help: "Ride request deliveries to driver sessions by result.",
		}, []string{"result"}),
		DriversOnline: f.NewGauge(prometheus.GaugeOpts{
			Name: "ridehail_drivers_online",
			Help: "Driver sessions connected to this instance.",
		}),
		StoreRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "ridehail_store_retries_total",
			Help: "Retries of store operations after transient failures.",
		}),
		ExpiredRides: f.NewCounter(prometheus.CounterOpts{
			Name: "ridehail_expired_rides_total",
			Help: "Pending rides cancelled by the expiry worker.",
		}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ridehail_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// NewTestMetrics registers on a private registry.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

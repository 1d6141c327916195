package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ambulance_dispatch", Name: "bookings_created_total", Help: "Total bookings created"})

	AcceptAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ambulance_dispatch", Name: "accept_attempts_total", Help: "Guarded accept attempts by outcome"},
		[]string{"outcome"},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ambulance_dispatch", Name: "transitions_total", Help: "Applied lifecycle transitions by target status"},
		[]string{"status"},
	)

	SamplesDiscarded = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ambulance_dispatch", Name: "position_samples_discarded_total", Help: "Transient position samples dropped as stale or mismatched"})
	ETAFailures      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ambulance_dispatch", Name: "eta_failures_total", Help: "Routing calls that failed and degraded the ETA"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ambulance_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ambulance_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Package metrics provides Prometheus metrics collection for the proxy.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_requests_total",
			Help: "Total number of requests by registry and status",
		},
		[]string{"registry", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxy_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"registry", "status"},
	)

	// Token metrics
	TokenRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_token_requests_total",
			Help: "Total number of Bearer token exchanges by outcome",
		},
		[]string{"outcome"},
	)

	// Blob pipeline metrics
	BlobRedirectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_blob_redirects_total",
			Help: "Total number of redirect hops followed while fetching a blob",
		},
		[]string{"registry"},
	)

	// Circuit breaker metrics. Repurposed from a per-registry blob-fetch
	// breaker to track CDN fall-back exhaustion: state is set to open (2)
	// each time the fall-back sub-routine fails for a given registry host
	// and back to closed (0) each time it succeeds, and a trip is recorded
	// on every failure. There is no time window, and half-open (1) is
	// never set.
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proxy_circuit_breaker_state",
			Help: "CDN fall-back exhaustion state by registry (0=closed, 1=half-open, 2=open)",
		},
		[]string{"registry"},
	)

	CircuitBreakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_circuit_breaker_trips_total",
			Help: "Total number of times the CDN fall-back sub-routine exhausted its attempts",
		},
		[]string{"registry"},
	)

	// Active requests
	ActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proxy_active_requests",
			Help: "Number of currently active requests",
		},
	)
)

func init() {
	// Register all metrics with Prometheus
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		TokenRequestsTotal,
		BlobRedirectsTotal,
		CircuitBreakerState,
		CircuitBreakerTrips,
		ActiveRequests,
	)
}

// Handler returns an HTTP handler for the Prometheus /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest tracks request metrics with timing.
func RecordRequest(registry string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	RequestsTotal.WithLabelValues(registry, statusStr).Inc()
	RequestDuration.WithLabelValues(registry, statusStr).Observe(duration.Seconds())
}

// RecordTokenRequest increments the token exchange counter for one of
// "ok", "failed", or "error".
func RecordTokenRequest(outcome string) {
	TokenRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordBlobRedirect increments the redirect-hop counter for a blob fetch.
func RecordBlobRedirect(registry string) {
	BlobRedirectsTotal.WithLabelValues(registry).Inc()
}

// SetCircuitState updates the CDN fall-back exhaustion gauge.
// state: 0=closed, 1=half-open, 2=open.
func SetCircuitState(registry string, state int) {
	CircuitBreakerState.WithLabelValues(registry).Set(float64(state))
}

// RecordCircuitTrip increments the fall-back exhaustion counter.
func RecordCircuitTrip(registry string) {
	CircuitBreakerTrips.WithLabelValues(registry).Inc()
}

// IncrementActiveRequests increments the active request counter.
func IncrementActiveRequests() {
	ActiveRequests.Inc()
}

// DecrementActiveRequests decrements the active request counter.
func DecrementActiveRequests() {
	ActiveRequests.Dec()
}

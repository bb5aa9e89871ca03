// Package metrics holds the Prometheus collectors of the service.
//
// It is a leaf package so route, database and middleware can all record
// into it without importing each other.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "apm"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "Number of in-flight HTTP requests",
		},
		[]string{"method"},
	)

	routeOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_outcomes_total",
			Help:      "Routed requests by pipeline outcome",
		},
		[]string{"route", "outcome"},
	)

	routeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_duration_seconds",
			Help:      "Time spent in the route pipeline in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"route"},
	)

	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_query_duration_seconds",
			Help:      "Search backend query duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	queryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_query_errors_total",
			Help:      "Total number of failed search backend queries",
		},
		[]string{"operation"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "search_circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter",
		},
		[]string{"path"},
	)
)

// RecordHTTPRequest records a finished HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// TrackActiveRequest increments the in-flight gauge and returns its decrement.
func TrackActiveRequest(method string) func() {
	g := httpActiveRequests.WithLabelValues(method)
	g.Inc()
	return g.Dec
}

// RecordQuery records a search backend query.
func RecordQuery(operation string, duration time.Duration, err error) {
	queryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		queryErrors.WithLabelValues(operation).Inc()
	}
}

// SetBreakerState records the state of a circuit breaker.
func SetBreakerState(name string, state float64) {
	breakerState.WithLabelValues(name).Set(state)
}

// RecordRateLimitHit counts a rate-limited request.
func RecordRateLimitHit(path string) {
	rateLimitHits.WithLabelValues(path).Inc()
}

// RouteObserver records route pipeline outcomes.
type RouteObserver struct{}

// ObserveRoute implements route.Observer.
func (RouteObserver) ObserveRoute(route, outcome string, duration time.Duration) {
	routeOutcomes.WithLabelValues(route, outcome).Inc()
	routeDuration.WithLabelValues(route).Observe(duration.Seconds())
}

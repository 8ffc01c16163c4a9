// Package monitoring exposes Prometheus metrics for analyses and the
// external services they depend on.
package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "areastats"

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusInvalid = "invalid"
)

var (
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Total number of area analyses by origin and status",
		},
		[]string{"origin", "status"},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time spent in the metrics aggregation, excluding data fetch",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"origin"},
	)

	FeaturesMatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_matched_total",
			Help:      "Features matched inside search circles, by layer",
		},
		[]string{"layer"},
	)

	ExternalRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_requests_total",
			Help:      "Total number of requests to external services",
		},
		[]string{"service", "status"},
	)

	ExternalRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_request_duration_seconds",
			Help:      "External service request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"service"},
	)

	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for outbound rate limiters",
			Buckets:   []float64{0.01, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"service"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of response cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of response cache misses",
		},
		[]string{"cache"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

// RecordAnalysis records the outcome and duration of one aggregation pass.
func RecordAnalysis(origin string, duration time.Duration, status string) {
	AnalysesTotal.WithLabelValues(origin, status).Inc()
	if status == StatusSuccess {
		AnalysisDuration.WithLabelValues(origin).Observe(duration.Seconds())
	}
}

// RecordFeatures adds matched feature counts per layer.
func RecordFeatures(buildings, pavedRoads, unpavedRoads int) {
	FeaturesMatched.WithLabelValues("buildings").Add(float64(buildings))
	FeaturesMatched.WithLabelValues("paved_roads").Add(float64(pavedRoads))
	FeaturesMatched.WithLabelValues("unpaved_roads").Add(float64(unpavedRoads))
}

// RecordExternalRequest records a call to Overpass, Nominatim and friends.
func RecordExternalRequest(service string, duration time.Duration, success bool) {
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	ExternalRequestsTotal.WithLabelValues(service, status).Inc()
	ExternalRequestDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordRateLimitWait records time spent blocked on a limiter.
func RecordRateLimitWait(service string, wait time.Duration) {
	RateLimitWait.WithLabelValues(service).Observe(wait.Seconds())
}

// RecordCacheHit records a cache hit or miss.
func RecordCacheHit(cache string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(cache).Inc()
		return
	}
	CacheMisses.WithLabelValues(cache).Inc()
}

// RecordHTTPRequest counts one served API request.
func RecordHTTPRequest(route string, code int) {
	HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

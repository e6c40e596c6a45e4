// Package metrics exposes Prometheus collectors for the monitor service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	dispatchesTotal            *prometheus.CounterVec
	postsTotal                 *prometheus.CounterVec
	activeDispatches           prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

var knownPlatforms = map[string]struct{}{
	"twitter":  {},
	"reddit":   {},
	"telegram": {},
	"rss":      {},
}

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		dispatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socialmon_dispatches_total",
				Help: "Total number of rule dispatches, labeled by platform and outcome.",
			},
			[]string{"platform", "outcome"},
		)

		postsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socialmon_posts_total",
				Help: "Posts seen by the crawler, labeled by platform and result.",
			},
			[]string{"platform", "result"},
		)

		activeDispatches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "socialmon_active_dispatches",
				Help: "Number of dispatches currently talking to a platform.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "socialmon_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"platform"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizePlatform lowercases a platform id and folds anything unknown
// into "other" to keep label cardinality bounded.
func SanitizePlatform(platform string) string {
	p := strings.ToLower(strings.TrimSpace(platform))
	if _, ok := knownPlatforms[p]; ok {
		return p
	}
	return "other"
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDispatch counts a finished dispatch.
func ObserveDispatch(platform, outcome string) {
	Init()
	dispatchesTotal.WithLabelValues(SanitizePlatform(platform), outcome).Inc()
}

// ObservePosts adds n posts with the given result (examined, matched,
// persisted, deduplicated, storage_error).
func ObservePosts(platform, result string, n int) {
	if n <= 0 {
		return
	}
	Init()
	postsTotal.WithLabelValues(SanitizePlatform(platform), result).Add(float64(n))
}

// IncActiveDispatches increments the active dispatch gauge.
func IncActiveDispatches() {
	Init()
	activeDispatches.Inc()
}

// DecActiveDispatches decrements the active dispatch gauge.
func DecActiveDispatches() {
	Init()
	activeDispatches.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(platform string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(SanitizePlatform(platform)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

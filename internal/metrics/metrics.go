// Package metrics exposes Prometheus collectors for the canvaspal service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	refreshesTotal             *prometheus.CounterVec
	refreshDurationSeconds     prometheus.Histogram
	sourceItemsTotal           *prometheus.CounterVec
	sourceErrorsTotal          *prometheus.CounterVec
	assignmentsByLevel         *prometheus.GaugeVec
	canvasRequestsTotal        *prometheus.CounterVec
	headlessPromotionsTotal    prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	completionUpdatesTotal     *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		refreshesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvaspal_refreshes_total",
				Help: "Total number of refresh runs, labeled by reason and status.",
			},
			[]string{"reason", "status"},
		)

		refreshDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "canvaspal_refresh_duration_seconds",
				Help:    "Histogram of end-to-end refresh durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		sourceItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvaspal_source_items_total",
				Help: "Total number of raw assignments collected, labeled by source.",
			},
			[]string{"source"},
		)

		sourceErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvaspal_source_errors_total",
				Help: "Total number of failed source collections, labeled by source.",
			},
			[]string{"source"},
		)

		assignmentsByLevel = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "canvaspal_assignments",
				Help: "Assignments in the latest snapshot, labeled by level (pending) or completed.",
			},
			[]string{"level"},
		)

		canvasRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvaspal_canvas_requests_total",
				Help: "Total number of Canvas API requests, labeled by endpoint and code.",
			},
			[]string{"endpoint", "code"},
		)

		headlessPromotionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "canvaspal_headless_promotions_total",
				Help: "Total number of dashboard fetches promoted to the headless renderer.",
			},
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

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "canvaspal_active_workers",
				Help: "Number of workers currently running a refresh.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "canvaspal_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		completionUpdatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvaspal_completion_updates_total",
				Help: "Total number of completed-flag changes, labeled by state.",
			},
			[]string{"state"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRefresh records one refresh outcome.
func ObserveRefresh(reason, status string, duration time.Duration) {
	refreshesTotal.WithLabelValues(reason, status).Inc()
	refreshDurationSeconds.Observe(duration.Seconds())
}

// ObserveSource records a collector result.
func ObserveSource(source string, items int, err error) {
	if err != nil {
		sourceErrorsTotal.WithLabelValues(source).Inc()
		return
	}
	sourceItemsTotal.WithLabelValues(source).Add(float64(items))
}

// SetAssignmentCounts publishes the latest snapshot counts.
func SetAssignmentCounts(high, medium, low, completed int) {
	assignmentsByLevel.WithLabelValues("high").Set(float64(high))
	assignmentsByLevel.WithLabelValues("medium").Set(float64(medium))
	assignmentsByLevel.WithLabelValues("low").Set(float64(low))
	assignmentsByLevel.WithLabelValues("completed").Set(float64(completed))
}

// ObserveCanvasRequest counts a Canvas API response. A zero code means the
// request failed before a response arrived.
func ObserveCanvasRequest(endpoint string, code int) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	canvasRequestsTotal.WithLabelValues(endpoint, label).Inc()
}

// ObserveHeadlessPromotion counts a dashboard fetch escalated to chromedp.
func ObserveHeadlessPromotion() {
	headlessPromotionsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveCompletion counts a completed-flag change.
func ObserveCompletion(completed bool) {
	state := "pending"
	if completed {
		state = "completed"
	}
	completionUpdatesTotal.WithLabelValues(state).Inc()
}

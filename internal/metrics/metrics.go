// Package metrics exposes Prometheus collectors for the discovery service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal                 *prometheus.CounterVec
	pagesTotal                 *prometheus.CounterVec
	profilesTotal              *prometheus.CounterVec
	rejectionsTotal            *prometheus.CounterVec
	retriesTotal               *prometheus.CounterVec
	navigationDelaySeconds     *prometheus.HistogramVec
	activeTasks                prometheus.Gauge
	quotaUsed                  *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_tasks_total",
				Help: "Discovery tasks that reached a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_pages_total",
				Help: "Result pages handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		profilesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_profiles_total",
				Help: "Extracted profiles, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rejectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_rejections_total",
				Help: "Guardrail rejections, labeled by reason.",
			},
			[]string{"reason"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_retries_total",
				Help: "Page collection retries, labeled by cause.",
			},
			[]string{"cause"},
		)

		navigationDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "discovery_navigation_delay_seconds",
				Help:    "Time spent waiting before navigations, labeled by kind.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		)

		activeTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "discovery_active_tasks",
				Help: "Number of tasks currently running.",
			},
		)

		quotaUsed = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "discovery_quota_used",
				Help: "Units committed against today's quota, labeled by kind.",
			},
			[]string{"kind"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask counts a task reaching a terminal status.
func ObserveTask(status string) {
	Init()
	tasksTotal.WithLabelValues(status).Inc()
}

// ObservePage counts a page outcome.
func ObservePage(outcome string) {
	Init()
	pagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveProfile counts an extracted profile outcome.
func ObserveProfile(outcome string) {
	Init()
	profilesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRejection counts a guardrail rejection.
func ObserveRejection(reason string) {
	Init()
	rejectionsTotal.WithLabelValues(reason).Inc()
}

// ObserveRetry counts a page retry.
func ObserveRetry(cause string) {
	Init()
	retriesTotal.WithLabelValues(cause).Inc()
}

// ObserveNavigationDelay records a wait before navigation.
func ObserveNavigationDelay(kind string, d time.Duration) {
	Init()
	navigationDelaySeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// IncActiveTasks increments the active tasks gauge.
func IncActiveTasks() {
	Init()
	activeTasks.Inc()
}

// DecActiveTasks decrements the active tasks gauge.
func DecActiveTasks() {
	Init()
	activeTasks.Dec()
}

// SetQuotaUsed publishes today's committed count for kind.
func SetQuotaUsed(kind string, used int) {
	Init()
	quotaUsed.WithLabelValues(kind).Set(float64(used))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

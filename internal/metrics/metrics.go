// Package metrics exposes Prometheus collectors for the crawler service.
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
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         *prometheus.HistogramVec
	targetsTotal               *prometheus.CounterVec
	opportunitiesTotal         *prometheus.CounterVec
	formatterTotal             *prometheus.CounterVec
	statsWriteFailuresTotal    prometheus.Counter
	publishFailuresTotal       prometheus.Counter
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call repeatedly;
// every Observe helper calls it first.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundcrawler_runs_total",
				Help: "Total number of source runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fundcrawler_run_duration_seconds",
				Help:    "Histogram of source run durations, labeled by outcome.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		)

		targetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundcrawler_targets_total",
				Help: "Total number of targets visited, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		opportunitiesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundcrawler_opportunities_total",
				Help: "Candidates handed to persistence, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		formatterTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundcrawler_formatter_total",
				Help: "Formatter invocations, labeled by path (ai|fallback) and fallback reason.",
			},
			[]string{"path", "reason"},
		)

		statsWriteFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fundcrawler_stats_write_failures_total",
				Help: "Run bookkeeping writes that failed and were swallowed.",
			},
		)

		publishFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fundcrawler_publish_failures_total",
				Help: "Opportunity notifications that could not be published.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fundcrawler_active_workers",
				Help: "Number of workers currently running a source.",
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
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
	Init()
	return promhttp.Handler()
}

// ObserveRun records a finished source run.
func ObserveRun(outcome string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(outcome).Inc()
	runDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveTarget records one visited target.
func ObserveTarget(targetURL, status string) {
	Init()
	targetsTotal.WithLabelValues(SanitizeSite(targetURL), status).Inc()
}

// ObservePersistence records the outcome of storing one candidate.
func ObservePersistence(outcome string) {
	Init()
	opportunitiesTotal.WithLabelValues(outcome).Inc()
}

// ObserveFormatter records which formatter path produced a result.
// reason is empty for the AI path.
func ObserveFormatter(path, reason string) {
	Init()
	formatterTotal.WithLabelValues(path, reason).Inc()
}

// ObserveStatsWriteFailure counts a swallowed stats write error.
func ObserveStatsWriteFailure() {
	Init()
	statsWriteFailuresTotal.Inc()
}

// ObservePublishFailure counts a notification that was not delivered.
func ObservePublishFailure() {
	Init()
	publishFailuresTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

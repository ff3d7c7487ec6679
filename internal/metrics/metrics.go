// Package metrics exposes Prometheus collectors for the scraper service.
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
	fetchOutcomesTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	loadAttemptsTotal          *prometheus.CounterVec
	memoryPeakMB               prometheus.Histogram
	watchdogTripsTotal         prometheus.Counter
	extractTierTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitRejectionsTotal   *prometheus.CounterVec
	prefetchTotal              *prometheus.CounterVec
	robotsIndeterminateTotal   prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_outcomes_total",
				Help: "Total number of fetches, labeled by site and outcome kind.",
			},
			[]string{"site", "kind"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_fetch_duration_seconds",
				Help:    "Histogram of end-to-end fetch latencies, labeled by outcome kind.",
				Buckets: []float64{1, 2, 5, 10, 20, 45, 90, 180},
			},
			[]string{"kind"},
		)

		loadAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_load_attempts_total",
				Help: "Total number of page load strategy attempts, labeled by strategy and verdict.",
			},
			[]string{"strategy", "verdict"},
		)

		memoryPeakMB = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_memory_peak_mb",
				Help:    "Peak resident memory observed during a fetch, in megabytes.",
				Buckets: []float64{64, 128, 256, 384, 512, 768, 1024, 2048},
			},
		)

		watchdogTripsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_watchdog_trips_total",
				Help: "Total number of page loads cancelled by the memory watchdog.",
			},
		)

		extractTierTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_extract_tier_total",
				Help: "Total number of extractions, labeled by the tier that produced the text.",
			},
			[]string{"tier"},
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

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Total number of jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		rateLimitRejectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_rate_limit_rejections_total",
				Help: "Total number of job submissions rejected by the rate limiter, labeled by client.",
			},
			[]string{"client"},
		)

		prefetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_prefetch_total",
				Help: "Total number of static fetch attempts, labeled by result (static, browser, disallowed).",
			},
			[]string{"result"},
		)

		robotsIndeterminateTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_robots_indeterminate_total",
				Help: "Total robots.txt probes that timed out during the TLS handshake and were treated as allow-all.",
			},
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

// ObserveFetch records one fetch outcome.
func ObserveFetch(site, kind string, duration time.Duration, peakMB float64) {
	Init()
	fetchOutcomesTotal.WithLabelValues(SanitizeSite(site), kind).Inc()
	fetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
	if peakMB > 0 {
		memoryPeakMB.Observe(peakMB)
	}
}

// ObserveLoadAttempt records one strategy attempt.
func ObserveLoadAttempt(strategy, verdict string) {
	Init()
	loadAttemptsTotal.WithLabelValues(strategy, verdict).Inc()
}

// ObserveWatchdogTrip increments the watchdog trip counter.
func ObserveWatchdogTrip() {
	Init()
	watchdogTripsTotal.Inc()
}

// ObserveExtractTier records which extraction tier produced a document.
func ObserveExtractTier(tier string) {
	Init()
	extractTierTotal.WithLabelValues(tier).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
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

// ObserveRateLimitRejection records a submission refused by the limiter.
func ObserveRateLimitRejection(client string) {
	Init()
	rateLimitRejectionsTotal.WithLabelValues(client).Inc()
}

// ObservePrefetch records the result of a static fetch attempt.
func ObservePrefetch(result string) {
	Init()
	prefetchTotal.WithLabelValues(result).Inc()
}

// ObserveRobotsIndeterminate records a robots.txt probe that fell back to allow-all.
func ObserveRobotsIndeterminate() {
	Init()
	robotsIndeterminateTotal.Inc()
}

// Package metrics exposes Prometheus collectors for ingestion runs.
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

// Fetch attempt outcomes.
const (
	FetchOK          = "ok"
	FetchStatus      = "status"
	FetchEmpty       = "empty"
	FetchPlaceholder = "placeholder"
	FetchNotImage    = "not_image"
	FetchError       = "error"
	FetchCached      = "cached"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	entriesTotal               *prometheus.CounterVec
	assetsTotal                *prometheus.CounterVec
	runDurationSeconds         *prometheus.HistogramVec
	activeEntries              prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_fetch_attempts_total",
				Help: "Fetch attempts made by the resolver, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		entriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_entries_total",
				Help: "Entries processed, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		assetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_assets_total",
				Help: "Asset candidates evaluated, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_run_duration_seconds",
				Help:    "Wall time of one source run.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"source"},
		)

		activeEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_entries",
				Help: "Number of entries currently being processed.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveFetch counts one resolver attempt against rawURL's host.
func ObserveFetch(rawURL, outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(SanitizeHost(rawURL), outcome).Inc()
}

// ObserveEntry counts a finished entry.
func ObserveEntry(source, status string) {
	Init()
	entriesTotal.WithLabelValues(source, status).Inc()
}

// ObserveAsset counts an asset decision; outcome is "stored" or a skip/failure reason.
func ObserveAsset(kind, outcome string) {
	Init()
	assetsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRun records how long a source run took.
func ObserveRun(source string, duration time.Duration) {
	Init()
	runDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// IncActiveEntries increments the active entries gauge.
func IncActiveEntries() {
	Init()
	activeEntries.Inc()
}

// DecActiveEntries decrements the active entries gauge.
func DecActiveEntries() {
	Init()
	activeEntries.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

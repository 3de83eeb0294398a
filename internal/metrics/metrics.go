// Package metrics exposes Prometheus collectors for the crawler control plane.
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
	crawlerRunsTotal           *prometheus.CounterVec
	crawlerRunDurationSeconds  *prometheus.HistogramVec
	crawlerActiveRuns          prometheus.Gauge
	crawlerLogLinesTotal       *prometheus.CounterVec
	crawlerBatchCancelsTotal   prometheus.Counter
	feedSyncPassesTotal        *prometheus.CounterVec
	feedSyncRecordsTotal       *prometheus.CounterVec
	feedSyncDurationSeconds    *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	httpRateLimitedTotal       prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Total number of crawler subprocess runs, labeled by platform and outcome.",
			},
			[]string{"platform", "outcome"},
		)

		crawlerRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_run_duration_seconds",
				Help:    "Wall-clock duration of crawler subprocess runs, labeled by platform.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			},
			[]string{"platform"},
		)

		crawlerActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_runs",
				Help: "Number of crawler subprocesses currently alive (0 or 1).",
			},
		)

		crawlerLogLinesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_log_lines_total",
				Help: "Total number of crawler output lines captured, labeled by level.",
			},
			[]string{"level"},
		)

		crawlerBatchCancelsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_batch_cancellations_total",
				Help: "Total number of batches that stopped early on request.",
			},
		)

		feedSyncPassesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_sync_passes_total",
				Help: "Total number of feed sync passes, labeled by platform and status.",
			},
			[]string{"platform", "status"},
		)

		feedSyncRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_sync_records_total",
				Help: "Total number of feed rows written by sync, labeled by platform and operation.",
			},
			[]string{"platform", "op"},
		)

		feedSyncDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feed_sync_duration_seconds",
				Help:    "Histogram of feed sync pass latencies, labeled by platform.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
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

		httpRateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Total number of API requests rejected by the per-client rate limiter.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records a finished crawler run. outcome is "success", "failure"
// or "spawn_error".
func ObserveRun(platform, outcome string, duration time.Duration) {
	Init()
	crawlerRunsTotal.WithLabelValues(platform, outcome).Inc()
	if duration > 0 {
		crawlerRunDurationSeconds.WithLabelValues(platform).Observe(duration.Seconds())
	}
}

// IncActiveRuns increments the live subprocess gauge.
func IncActiveRuns() {
	Init()
	crawlerActiveRuns.Inc()
}

// DecActiveRuns decrements the live subprocess gauge.
func DecActiveRuns() {
	Init()
	crawlerActiveRuns.Dec()
}

// ObserveLogLine counts one captured output line.
func ObserveLogLine(level string) {
	Init()
	crawlerLogLinesTotal.WithLabelValues(level).Inc()
}

// ObserveBatchCancel counts a batch that honoured a cancellation request.
func ObserveBatchCancel() {
	Init()
	crawlerBatchCancelsTotal.Inc()
}

// ObserveSync records one sync pass for platform.
func ObserveSync(platform string, inserted, updated int, err error, duration time.Duration) {
	Init()
	status := "success"
	if err != nil {
		status = "error"
	}
	feedSyncPassesTotal.WithLabelValues(platform, status).Inc()
	if inserted > 0 {
		feedSyncRecordsTotal.WithLabelValues(platform, "insert").Add(float64(inserted))
	}
	if updated > 0 {
		feedSyncRecordsTotal.WithLabelValues(platform, "update").Add(float64(updated))
	}
	feedSyncDurationSeconds.WithLabelValues(platform).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimited counts a request rejected with 429.
func ObserveRateLimited() {
	Init()
	httpRateLimitedTotal.Inc()
}

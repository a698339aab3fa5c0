// Package metrics exposes Prometheus collectors for the shelfminer service.
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
	jobsFinishedTotal       *prometheus.CounterVec
	itemsProcessedTotal     *prometheus.CounterVec
	itemFailuresTotal       *prometheus.CounterVec
	candidatesTotal         *prometheus.CounterVec
	activeWorkers           prometheus.Gauge
	labelRequestDuration    prometheus.Histogram
	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDurationSecs *prometheus.HistogramVec

	once sync.Once
)

// Init registers all collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		jobsFinishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelfminer_jobs_finished_total",
				Help: "Jobs reaching a terminal status, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)
		itemsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelfminer_items_processed_total",
				Help: "Items processed successfully, labeled by job kind.",
			},
			[]string{"kind"},
		)
		itemFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelfminer_item_failures_total",
				Help: "Per-item failures, labeled by job kind.",
			},
			[]string{"kind"},
		)
		candidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelfminer_discovery_candidates_total",
				Help: "Candidates surfaced during discovery, labeled by strategy.",
			},
			[]string{"strategy"},
		)
		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "shelfminer_active_workers",
				Help: "Workers currently consuming from a job queue.",
			},
		)
		labelRequestDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shelfminer_label_request_duration_seconds",
				Help:    "Latency of labeling service calls.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJobFinished counts a terminal job transition.
func ObserveJobFinished(kind, status string) {
	if jobsFinishedTotal != nil {
		jobsFinishedTotal.WithLabelValues(kind, status).Inc()
	}
}

// ObserveItemProcessed counts a successfully processed item.
func ObserveItemProcessed(kind string) {
	if itemsProcessedTotal != nil {
		itemsProcessedTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveItemFailed counts a per-item failure.
func ObserveItemFailed(kind string) {
	if itemFailuresTotal != nil {
		itemFailuresTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveCandidates counts candidates surfaced by a discovery strategy.
func ObserveCandidates(strategy string, n int) {
	if candidatesTotal != nil && n > 0 {
		candidatesTotal.WithLabelValues(strategy).Add(float64(n))
	}
}

// WorkerStarted increments the active worker gauge.
func WorkerStarted() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// WorkerStopped decrements the active worker gauge.
func WorkerStopped() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// ObserveLabelRequest records one labeling call's latency.
func ObserveLabelRequest(d time.Duration) {
	if labelRequestDuration != nil {
		labelRequestDuration.Observe(d.Seconds())
	}
}

// ObserveHTTPRequest records a served HTTP request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecs.WithLabelValues(method, route).Observe(d.Seconds())
}

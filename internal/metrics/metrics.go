// Package metrics exposes Prometheus collectors for the scraper service.
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
	scraperJobsTotal           *prometheus.CounterVec
	scraperPagesTotal          *prometheus.CounterVec
	scraperReviewsTotal        *prometheus.CounterVec
	scraperActiveJobs          prometheus.Gauge
	scraperFetchSeconds        *prometheus.HistogramVec
	scraperRetriesTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Total number of scrape jobs finished, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		scraperPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pages_total",
				Help: "Total number of source pages fetched, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		scraperReviewsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_reviews_captured_total",
				Help: "Total number of unique reviews persisted, labeled by source.",
			},
			[]string{"source"},
		)

		scraperActiveJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_jobs",
				Help: "Number of jobs currently running.",
			},
		)

		scraperFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_fetch_duration_seconds",
				Help:    "Histogram of per-page fetch latencies, labeled by source.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		scraperRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_retries_total",
				Help: "Total number of transient fetch retries, labeled by source.",
			},
			[]string{"source"},
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

// ObserveJob increments the finished-jobs counter.
func ObserveJob(source, status string) {
	Init()
	scraperJobsTotal.WithLabelValues(source, status).Inc()
}

// ObserveFetch records one page fetch with its outcome and latency.
func ObserveFetch(source, outcome string, duration time.Duration) {
	Init()
	scraperPagesTotal.WithLabelValues(source, outcome).Inc()
	scraperFetchSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveReviews adds persisted review rows to the capture counter.
func ObserveReviews(source string, n int) {
	if n <= 0 {
		return
	}
	Init()
	scraperReviewsTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveRetry increments the transient retry counter.
func ObserveRetry(source string) {
	Init()
	scraperRetriesTotal.WithLabelValues(source).Inc()
}

// IncActiveJobs increments the running-jobs gauge.
func IncActiveJobs() {
	Init()
	scraperActiveJobs.Inc()
}

// DecActiveJobs decrements the running-jobs gauge.
func DecActiveJobs() {
	Init()
	scraperActiveJobs.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

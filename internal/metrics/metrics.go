// Package metrics exposes Prometheus collectors for the content pipeline.
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
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	activeWorkers              *prometheus.GaugeVec
	publishTotal               *prometheus.CounterVec
	tokenRefreshTotal          *prometheus.CounterVec
	sweepEnqueuedTotal         *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankyak_jobs_total",
				Help: "Total number of job attempts, labeled by queue and result.",
			},
			[]string{"queue", "result"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rankyak_job_duration_seconds",
				Help:    "Histogram of job attempt durations, labeled by queue.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"queue"},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rankyak_active_workers",
				Help: "Number of workers currently processing a job, labeled by queue.",
			},
			[]string{"queue"},
		)

		publishTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankyak_publish_total",
				Help: "Total number of publish outcomes, labeled by platform and code.",
			},
			[]string{"platform", "code"},
		)

		tokenRefreshTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankyak_token_refresh_total",
				Help: "Total number of OAuth token refreshes, labeled by platform and result.",
			},
			[]string{"platform", "result"},
		)

		sweepEnqueuedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankyak_sweep_enqueued_total",
				Help: "Total number of jobs enqueued by scheduler sweeps, labeled by sweep.",
			},
			[]string{"sweep"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rankyak_rate_limit_delays_seconds",
				Help:    "Histogram of outbound publish rate limit waits.",
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
	return promhttp.Handler()
}

// ObserveJob records one job attempt.
func ObserveJob(queue, result string, duration time.Duration) {
	Init()
	jobsTotal.WithLabelValues(queue, result).Inc()
	jobDurationSeconds.WithLabelValues(queue).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers(queue string) {
	Init()
	activeWorkers.WithLabelValues(queue).Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers(queue string) {
	Init()
	activeWorkers.WithLabelValues(queue).Dec()
}

// ObservePublish records a publish outcome. An empty code means success.
func ObservePublish(platform, code string) {
	Init()
	if code == "" {
		code = "ok"
	}
	publishTotal.WithLabelValues(platform, code).Inc()
}

// ObserveTokenRefresh records an OAuth refresh attempt.
func ObserveTokenRefresh(platform string, ok bool) {
	Init()
	result := "ok"
	if !ok {
		result = "error"
	}
	tokenRefreshTotal.WithLabelValues(platform, result).Inc()
}

// ObserveSweep records how many jobs a sweep enqueued.
func ObserveSweep(sweep string, enqueued int) {
	Init()
	sweepEnqueuedTotal.WithLabelValues(sweep).Add(float64(enqueued))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

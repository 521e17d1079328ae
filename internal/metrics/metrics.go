// Package metrics exposes Prometheus collectors for the stream discovery service.
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
	scanCyclesTotal            *prometheus.CounterVec
	scanCycleDurationSeconds   prometheus.Histogram
	resolutionsTotal           *prometheus.CounterVec
	probesTotal                *prometheus.CounterVec
	probeDurationSeconds       *prometheus.HistogramVec
	cachedStreams              prometheus.Gauge
	redirectsTotal             *prometheus.CounterVec
	rateLimitDelaysSeconds     prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scanCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cwiptv_scan_cycles_total",
				Help: "Total number of scan cycles, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scanCycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cwiptv_scan_cycle_duration_seconds",
				Help:    "Histogram of scan cycle wall-clock durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1500},
			},
		)

		resolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cwiptv_resolutions_total",
				Help: "Total channel resolutions, labeled by where the working stream came from.",
			},
			[]string{"source"},
		)

		probesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cwiptv_probes_total",
				Help: "Total stream probes, labeled by status.",
			},
			[]string{"status"},
		)

		probeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cwiptv_probe_duration_seconds",
				Help:    "Histogram of stream probe latencies, labeled by status.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"status"},
		)

		cachedStreams = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cwiptv_cached_streams",
				Help: "Number of channels with a known working stream.",
			},
		)

		redirectsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cwiptv_redirects_total",
				Help: "Total stream lookups, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cwiptv_rate_limit_delays_seconds",
				Help:    "Histogram of per-host probe rate limit waits.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
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
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records a finished scan cycle.
func ObserveCycle(outcome string, duration time.Duration) {
	Init()
	scanCyclesTotal.WithLabelValues(outcome).Inc()
	scanCycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveResolution counts where a channel's working stream came from.
func ObserveResolution(source string) {
	Init()
	resolutionsTotal.WithLabelValues(source).Inc()
}

// ObserveProbe records one probe attempt. Origin scans touch up to 99 hosts per CDN, so the
// host is not a label.
func ObserveProbe(status string, duration time.Duration) {
	Init()
	probesTotal.WithLabelValues(status).Inc()
	probeDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// SetCachedStreams sets the working-stream gauge.
func SetCachedStreams(n int) {
	Init()
	cachedStreams.Set(float64(n))
}

// ObserveRedirect counts a stream lookup by result ("hit" or "miss").
func ObserveRedirect(result string) {
	Init()
	redirectsTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

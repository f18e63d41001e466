// Package metrics exposes Prometheus collectors for the capture service.
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
	captureJobsTotal           *prometheus.CounterVec
	captureFieldsFilledTotal   *prometheus.CounterVec
	captureConsentsTotal       *prometheus.CounterVec
	captureDocumentsTotal      *prometheus.CounterVec
	captureDocumentBytesTotal  *prometheus.CounterVec
	captureFallbackStepsTotal  *prometheus.CounterVec
	captureDownloadWaitSeconds *prometheus.HistogramVec
	captureActiveWorkers       prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		captureJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capture_jobs_total",
				Help: "Total number of capture jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		captureFieldsFilledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capture_fields_filled_total",
				Help: "Total number of form fields filled, labeled by host and method.",
			},
			[]string{"host", "method"},
		)

		captureConsentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capture_consents_total",
				Help: "Total number of consent controls applied, labeled by kind.",
			},
			[]string{"kind"},
		)

		captureDocumentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capture_documents_total",
				Help: "Total number of documents staged, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		captureDocumentBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capture_document_bytes_total",
				Help: "Total bytes of staged documents, labeled by host.",
			},
			[]string{"host"},
		)

		captureFallbackStepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capture_fallback_steps_total",
				Help: "Total assisted fallback steps consumed, labeled by host.",
			},
			[]string{"host"},
		)

		captureDownloadWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "capture_download_wait_seconds",
				Help:    "Histogram of time from trigger click to stable file.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"host"},
		)

		captureActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "capture_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "capture_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
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

// SanitizeHost sanitizes a URL or host string to a lowercase hostname.
// It returns "unknown" if the input is invalid.
func SanitizeHost(raw string) string {
	if !strings.HasPrefix(raw, "http") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	captureJobsTotal.WithLabelValues(status).Inc()
}

// ObserveFieldsFilled adds filled-field counts for a host.
func ObserveFieldsFilled(host, method string, n int) {
	if n <= 0 {
		return
	}
	captureFieldsFilledTotal.WithLabelValues(SanitizeHost(host), method).Add(float64(n))
}

// ObserveConsent increments the consent counter for a control kind.
func ObserveConsent(kind string) {
	captureConsentsTotal.WithLabelValues(kind).Inc()
}

// ObserveDocument records one staged or failed document.
func ObserveDocument(host, outcome string, sizeBytes int64) {
	h := SanitizeHost(host)
	captureDocumentsTotal.WithLabelValues(h, outcome).Inc()
	if sizeBytes > 0 {
		captureDocumentBytesTotal.WithLabelValues(h).Add(float64(sizeBytes))
	}
}

// ObserveFallbackStep increments the assisted step counter for a host.
func ObserveFallbackStep(host string) {
	captureFallbackStepsTotal.WithLabelValues(SanitizeHost(host)).Inc()
}

// ObserveDownloadWait records trigger-to-stable latency for a host.
func ObserveDownloadWait(host string, duration time.Duration) {
	captureDownloadWaitSeconds.WithLabelValues(SanitizeHost(host)).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	captureActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	captureActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(SanitizeHost(host)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

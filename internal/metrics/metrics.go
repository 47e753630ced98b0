// Package metrics exposes Prometheus collectors for the importer service.
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
	importerRowsTotal              *prometheus.CounterVec
	importerJobsTotal              *prometheus.CounterVec
	importerActiveJobs             prometheus.Gauge
	importerChunkDurationSeconds   prometheus.Histogram
	webhookDeliveriesTotal         *prometheus.CounterVec
	webhookDeliveryDurationSeconds *prometheus.HistogramVec
	webhookQueueDrops              prometheus.Counter
	webhookRateLimitDelaySeconds   *prometheus.HistogramVec
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		importerRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "importer_rows_total",
				Help: "Total number of processed CSV rows, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		importerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "importer_jobs_total",
				Help: "Total number of finished import jobs, labeled by status.",
			},
			[]string{"status"},
		)

		importerActiveJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "importer_active_jobs",
				Help: "Number of import jobs currently processing.",
			},
		)

		importerChunkDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "importer_chunk_duration_seconds",
				Help:    "Histogram of per-chunk upsert latencies.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		webhookDeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_deliveries_total",
				Help: "Total number of webhook delivery attempts, labeled by event type and outcome.",
			},
			[]string{"event_type", "outcome"},
		)

		webhookDeliveryDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_delivery_duration_seconds",
				Help:    "Histogram of webhook delivery latencies, labeled by event type.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"event_type"},
		)

		webhookQueueDrops = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webhook_queue_drops_total",
				Help: "Total deliveries dropped because the queue was full.",
			},
		)

		webhookRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_rate_limit_delay_seconds",
				Help:    "Histogram of outbound delivery delays imposed by per-host rate limiting.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRow increments the row counter for the given outcome.
func ObserveRow(outcome string) {
	importerRowsTotal.WithLabelValues(outcome).Inc()
}

// ObserveJob increments the finished-job counter for the given status.
func ObserveJob(status string) {
	importerJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	importerActiveJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	importerActiveJobs.Dec()
}

// ObserveChunk records the duration of one chunk upsert.
func ObserveChunk(duration time.Duration) {
	importerChunkDurationSeconds.Observe(duration.Seconds())
}

// ObserveDelivery records a webhook delivery attempt and its latency.
func ObserveDelivery(eventType, outcome string, duration time.Duration) {
	webhookDeliveriesTotal.WithLabelValues(eventType, outcome).Inc()
	webhookDeliveryDurationSeconds.WithLabelValues(eventType).Observe(duration.Seconds())
}

// ObserveQueueDrop increments the dropped-delivery counter.
func ObserveQueueDrop() {
	webhookQueueDrops.Inc()
}

// ObserveRateLimitDelay records time a delivery spent waiting on the per-host
// rate limiter.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	webhookRateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the job pipeline:
// - queue throughput and depth
// - per-job outcomes and durations
// - embedding item counters
// - sync stage durations
// - operator API latency
// - WebSocket connections

var (
	// Queue metrics
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "specto_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"job_name"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "specto_jobs_processed_total",
			Help: "Total number of jobs processed, by terminal outcome",
		},
		[]string{"job_name", "status"}, // "completed", "failed", "retried"
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "specto_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600, 1800}, // Sync and embedding jobs run minutes
		},
		[]string{"job_name"},
	)

	// Embedding metrics
	EmbeddingItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "specto_embedding_items_total",
			Help: "Total number of media items handled by embedding runs",
		},
		[]string{"outcome"}, // "processed", "skipped", "error"
	)

	// Sync metrics
	SyncStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "specto_sync_stage_duration_seconds",
			Help:    "Duration of individual sync pipeline stages in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"}, // "users", "libraries", "items", "activities"
	)

	// Operator API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "specto_api_requests_total",
			Help: "Total number of operator API requests",
		},
		[]string{"method", "path", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "specto_api_request_duration_seconds",
			Help:    "Operator API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	// WebSocket metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "specto_websocket_connections",
			Help: "Current number of connected WebSocket clients",
		},
	)

	WSEventsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "specto_websocket_events_sent_total",
			Help: "Total number of job events broadcast to WebSocket clients",
		},
	)
)

// RegisterQueueDepth exposes the queue backlog as a gauge evaluated at
// scrape time. Call once at startup; duplicate registration panics.
func RegisterQueueDepth(depth func() float64) {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "specto_queue_depth",
			Help: "Number of jobs waiting for delivery",
		},
		depth,
	)
}

// RecordJobProcessed records one finished job execution
func RecordJobProcessed(jobName, status string, duration time.Duration) {
	JobsProcessed.WithLabelValues(jobName, status).Inc()
	JobDuration.WithLabelValues(jobName).Observe(duration.Seconds())
}

// RecordEmbeddingItems adds an embedding run's item counters
func RecordEmbeddingItems(processed, skipped, errors int) {
	if processed > 0 {
		EmbeddingItems.WithLabelValues("processed").Add(float64(processed))
	}
	if skipped > 0 {
		EmbeddingItems.WithLabelValues("skipped").Add(float64(skipped))
	}
	if errors > 0 {
		EmbeddingItems.WithLabelValues("error").Add(float64(errors))
	}
}

// RecordSyncStage records the duration of one sync pipeline stage
func RecordSyncStage(stage string, duration time.Duration) {
	SyncStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordAPIRequest records one operator API request
func RecordAPIRequest(method, path, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Package metrics defines and registers Prometheus metrics for the
// upload engine. Metrics cover file admission, chunk uploads, retries,
// queue depth, and block-store usage, and are exposed for monitoring.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FilesDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "uev_files_detected_total",
			Help: "Total number of files admitted to the queue.",
		},
	)
	ChunksUploaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "uev_chunks_uploaded_total",
			Help: "Total number of chunks uploaded.",
		},
	)
	UploadFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "uev_upload_failures_total",
			Help: "Total number of terminal upload failures.",
		},
	)
	RedisErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "uev_redis_errors_total",
			Help: "Total number of redis mirror cache errors (best-effort, non-fatal).",
		},
	)
	FilesInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "uev_files_in_progress",
			Help: "Current number of files being uploaded.",
		},
	)
	FileProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "uev_file_processing_duration_seconds",
			Help:    "Histogram of whole-file upload durations.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1s, 2s, 4s, ...
		},
	)
	ChunkUploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "uev_chunk_upload_duration_seconds",
			Help:    "Histogram of chunk upload durations.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 0.1s, 0.2s, ...
		},
	)
	LastFileProcessed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "uev_last_file_processed_unixtime",
			Help: "Unix timestamp of the last successfully completed file.",
		},
	)
	RetryAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "uev_retry_attempts_total",
			Help: "Total number of chunk retry attempts scheduled by the retry engine.",
		},
	)
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "uev_queue_depth",
			Help: "Current number of pending queue items.",
		},
	)
	BlockStoreBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "uev_blockstore_bytes",
			Help: "Current total bytes persisted in the block store.",
		},
	)

	initOnce sync.Once
)

// Init registers every metric and starts the /metrics HTTP server on
// port. Safe to call more than once; only the first call takes effect.
func Init(port string) {
	initOnce.Do(func() {
		prometheus.MustRegister(FilesDetected, ChunksUploaded, UploadFailures, RedisErrors,
			FilesInProgress, FileProcessingDuration, ChunkUploadDuration, LastFileProcessed,
			RetryAttempts, QueueDepth, BlockStoreBytes)
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			http.ListenAndServe(":"+port, nil)
		}()
	})
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segment_uploader_tasks_enqueued_total",
		Help: "Total number of segment uploads enqueued",
	})

	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segment_uploader_tasks_completed_total",
		Help: "Total number of segment uploads completed",
	})

	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segment_uploader_tasks_failed_total",
		Help: "Total number of segment uploads that failed permanently",
	})

	TasksCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segment_uploader_tasks_cancelled_total",
		Help: "Total number of segment uploads cancelled",
	})

	RetriesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segment_uploader_retries_scheduled_total",
		Help: "Total number of automatic retries scheduled",
	})

	ThumbnailFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segment_uploader_thumbnail_failures_total",
		Help: "Total number of thumbnail transfers that failed",
	})

	PersistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segment_uploader_persist_errors_total",
		Help: "Total number of failed task snapshot writes",
	})

	ActiveUploads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segment_uploader_active_uploads",
		Help: "Number of uploads currently in flight",
	})

	UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "segment_uploader_upload_duration_seconds",
		Help:    "Duration of successful upload attempts in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segment_uploader_upload_bytes_total",
		Help: "Total bytes uploaded",
	})
)

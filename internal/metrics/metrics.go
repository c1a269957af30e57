// Package metrics holds the prometheus collectors of the service
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "attachments"

var (
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Uploads by result",
	}, []string{"result"})

	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_bytes_total",
		Help:      "Bytes written by successful uploads",
	})

	Thumbnails = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "thumbnails_total",
		Help:      "Thumbnail generation outcomes",
	}, []string{"status"})

	ThumbnailQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "thumbnail_queue_depth",
		Help:      "Thumbnail jobs enqueued or running",
	})

	Finalized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "finalized_total",
		Help:      "Attachments bound to a context",
	})

	FileMoveFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "file_move_fallbacks_total",
		Help:      "Moves that had to copy because rename failed",
	})

	ReclaimedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reclaimed_sessions_total",
		Help:      "Expired upload sessions removed by the reclaim job",
	})

	ReclaimFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reclaim_failures_total",
		Help:      "Items the reclaim job failed to remove",
	})
)

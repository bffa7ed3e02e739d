package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics for production monitoring
var (
	// Detection metrics
	PointsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_points_processed_total",
			Help: "Total number of streaming points processed",
		},
		[]string{"metric", "state"}, // state: warming/active
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_anomalies_detected_total",
			Help: "Total number of anomalies detected",
		},
		[]string{"metric", "algorithm", "severity"},
	)

	DetectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulseboard_detection_duration_seconds",
			Help:    "Per-point detection duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		},
		[]string{"algorithm"},
	)

	BatchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_batch_runs_total",
			Help: "Total number of batch detection runs",
		},
		[]string{"algorithm", "status"},
	)

	BatchRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulseboard_batch_run_duration_seconds",
			Help:    "Batch detection run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"algorithm"},
	)

	// Registry metrics
	ActiveDetectors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulseboard_active_detectors",
			Help: "Current number of live streaming detectors",
		},
	)

	DetectorsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulseboard_detectors_created_total",
			Help: "Total number of streaming detectors created",
		},
	)

	DetectorsReplaced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulseboard_detectors_replaced_total",
			Help: "Total number of detectors replaced by a re-create on the same metric",
		},
	)

	// Cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulseboard_cache_hits_total",
			Help: "Total number of batch result cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulseboard_cache_misses_total",
			Help: "Total number of batch result cache misses",
		},
	)

	// Persistence metrics
	AnomaliesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulseboard_anomalies_persisted_total",
			Help: "Total number of anomaly records written to history",
		},
	)

	HistoryWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulseboard_history_write_errors_total",
			Help: "Total number of failed anomaly history writes",
		},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulseboard_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)

	// Ingest metrics
	IngestRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_ingest_rejected_total",
			Help: "Total number of ingest requests rejected",
		},
		[]string{"reason"}, // reason: rate_limited/unknown_detector/malformed
	)
)

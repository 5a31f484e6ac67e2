package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Service metrics for production monitoring. These are internal to the
// process; the per-record analysis metrics contractually named in the
// emitter travel through the injected sink instead.
var (
	// Ingress metrics
	IngressAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardianai_ingress_accepted_total",
			Help: "Total number of telemetry records accepted at ingress",
		},
	)

	IngressRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardianai_ingress_rejected_total",
			Help: "Total number of telemetry records rejected at ingress",
		},
		[]string{"reason"}, // reason: malformed/overloaded
	)

	IngressDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardianai_ingress_duplicates_total",
			Help: "Total number of records short-circuited by the dedup window",
		},
	)

	// Pipeline metrics
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardianai_records_processed_total",
			Help: "Total number of records fully analyzed",
		},
		[]string{"outcome"}, // outcome: complete/partial
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guardianai_record_processing_duration_seconds",
			Help:    "Per-record analysis duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardianai_pipeline_queue_depth",
			Help: "Current number of records waiting for a worker",
		},
	)

	// AI client metrics
	AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardianai_ai_requests_total",
			Help: "Total number of AI classifier requests",
		},
		[]string{"analyzer", "status"}, // status: success/error
	)

	AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guardianai_ai_request_duration_seconds",
			Help:    "AI classifier request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"analyzer"},
	)

	QualityParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardianai_quality_parse_failures_total",
			Help: "Quality classifier responses that never parsed after retries",
		},
	)

	ThreatParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardianai_threat_parse_failures_total",
			Help: "Threat classifier responses that never parsed after retries",
		},
	)

	// Store metrics
	StoreWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardianai_store_write_failures_total",
			Help: "Record store writes that failed after all retries",
		},
	)

	// Incident metrics
	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardianai_incidents_created_total",
			Help: "Total number of incidents synthesized",
		},
		[]string{"severity"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardianai_websocket_connections",
			Help: "Current number of active incident-stream connections",
		},
	)
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PostingsEnqueued tracks identifiers admitted to the queue
	PostingsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobsieve_postings_enqueued_total",
			Help: "Total number of postings admitted to the processing queue",
		},
	)

	// PostingsProcessed tracks per-item processing outcomes
	PostingsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsieve_postings_processed_total",
			Help: "Total number of postings processed, by outcome",
		},
		[]string{"outcome"},
	)

	// ClassifierCalls tracks external classifier calls
	ClassifierCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsieve_classifier_calls_total",
			Help: "Total number of external classifier calls",
		},
		[]string{"result"},
	)

	// ClassifierLatency tracks classifier call latency
	ClassifierLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jobsieve_classifier_call_duration_seconds",
			Help:    "External classifier call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// StatusTransitions tracks successful posting status transitions
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsieve_status_transitions_total",
			Help: "Total number of posting status transitions",
		},
		[]string{"from", "to"},
	)

	// Notifications tracks delivery attempts to the notification sink
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsieve_notifications_total",
			Help: "Total number of notification deliveries, by result",
		},
		[]string{"result"},
	)

	// RecoverySweeps tracks recovery sweep runs
	RecoverySweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobsieve_recovery_sweeps_total",
			Help: "Total number of recovery sweep runs",
		},
	)

	// RecoveryActions tracks what the sweep did with reclaimed items
	RecoveryActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsieve_recovery_actions_total",
			Help: "Total number of recovery resolutions, by action",
		},
		[]string{"action"},
	)

	// CacheRebuilds tracks processed-item cache rebuilds
	CacheRebuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobsieve_cache_rebuilds_total",
			Help: "Total number of processed-item cache rebuilds",
		},
	)

	// QueueDepth tracks pending plus in-flight queue items
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobsieve_queue_depth",
			Help: "Number of queue items pending or in flight",
		},
	)

	// InflightWorkers tracks workers currently processing an item
	InflightWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobsieve_inflight_workers",
			Help: "Number of workers currently processing an item",
		},
	)

	// BreakerState tracks the classifier circuit breaker state
	// (0 = closed, 1 = half-open, 2 = open)
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobsieve_breaker_state",
			Help: "Classifier circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	// CacheSize tracks the processed-item cache size
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobsieve_cache_size",
			Help: "Number of identifiers in the processed-item cache",
		},
	)

	// ProcessingPaused tracks the pause flag (1 = paused)
	ProcessingPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobsieve_processing_paused",
			Help: "Whether processing is paused (1 = paused)",
		},
	)

	// DBConnectionPoolUsage tracks SQL pool utilization percent
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobsieve_db_pool_usage_percent",
			Help: "Percentage of SQL connections in use",
		},
	)
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Catalog mutation metrics
var (
	// ItemMutationsTotal counts ledgered item mutations by action
	ItemMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shramba_item_mutations_total",
			Help: "Item mutations written to the activity ledger by action",
		},
		[]string{"action"},
	)

	// BulkFailuresTotal counts per-item failures inside bulk operations
	BulkFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shramba_bulk_failures_total",
			Help: "Per-item failures inside bulk operations by operation and code",
		},
		[]string{"operation", "code"},
	)
)

// Session metrics
var (
	// SessionTransitionsTotal counts sessions entering a status
	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shramba_session_transitions_total",
			Help: "Sessions entering a status",
		},
		[]string{"status"},
	)

	// SessionCommitDuration tracks commit latency in seconds, including image copies
	SessionCommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shramba_session_commit_duration_seconds",
			Help:    "Session commit duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// ImageCleanupFailures counts image files that could not be deleted
	ImageCleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shramba_image_cleanup_failures_total",
			Help: "Image files that failed best-effort deletion",
		},
	)
)

// Collaborator metrics
var (
	// IndexOperationsTotal counts lexical index writes by operation and status
	IndexOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shramba_index_operations_total",
			Help: "Lexical index operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// EmbeddingRefreshesTotal counts deferred embedding refreshes by status
	EmbeddingRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shramba_embedding_refreshes_total",
			Help: "Deferred embedding refreshes by status (updated/unchanged/skipped/error/dropped)",
		},
		[]string{"status"},
	)

	// VisionRequestsTotal counts vision extraction calls by status
	VisionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shramba_vision_requests_total",
			Help: "Vision extraction requests by status",
		},
		[]string{"status"},
	)

	// VisionRequestDuration tracks vision call latency in seconds
	VisionRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shramba_vision_request_duration_seconds",
			Help:    "Vision extraction request duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40},
		},
	)

	// CircuitBreakerState tracks the vision circuit breaker (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shramba_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

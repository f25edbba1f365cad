package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionsIngested counts transactions persisted, by origin (live or backfill)
	TransactionsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_transactions_ingested_total",
			Help: "Total number of transactions persisted",
		},
		[]string{"origin"},
	)

	// IngestionFailures counts transactions that could not be persisted on arrival
	IngestionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestor_ingestion_failures_total",
		Help: "Total number of transactions that failed to persist",
	})

	LastProcessedSlot = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingestor_last_processed_slot",
		Help: "Last processed slot",
	})

	GapsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestor_slot_gaps_detected_total",
		Help: "Total number of slot gaps handed to the backfill queue",
	})

	BackfillQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingestor_backfill_queue_length",
		Help: "Number of slot ranges waiting in the backfill queue",
	})

	BackfillInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingestor_backfill_in_progress",
		Help: "Number of slot ranges currently being processed",
	})

	// BackfillItems counts finished queue items by outcome (completed, retried, failed)
	BackfillItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_backfill_items_total",
			Help: "Total number of backfill items by outcome",
		},
		[]string{"outcome"},
	)

	// DataSourceHealth is 1 for healthy, 0.5 for degraded and 0 otherwise
	DataSourceHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestor_data_source_health",
			Help: "Health of each data source",
		},
		[]string{"source_id"},
	)

	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_rpc_requests_total",
			Help: "Total number of RPC requests",
		},
		[]string{"source_id", "method", "status"},
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestor_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source_id", "method"},
	)

	ProcessorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_processor_errors_total",
			Help: "Total number of transaction processor failures",
		},
		[]string{"processor"},
	)
)

// Backfill item outcomes
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

// HealthValue maps a health status string to the gauge value
func HealthValue(status string) float64 {
	switch status {
	case "healthy":
		return 1
	case "degraded":
		return 0.5
	}
	return 0
}

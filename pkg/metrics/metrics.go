package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	WebhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Total number of webhook requests by source and outcome (count)",
		},
		[]string{"source", "outcome"},
	)

	WebhookProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_duration_ms",
			Help:    "End-to-end webhook handling duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"source", "outcome"},
	)

	SignatureVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signature_verifications_total",
			Help: "Total number of signature verifications by result (count)",
		},
		[]string{"source", "result"},
	)

	SignatureRotationKeyUsedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signature_rotation_key_used_total",
			Help: "Verifications that matched a non-primary secret (count)",
		},
		[]string{"source", "key_index"},
	)

	ReplayRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_rejections_total",
			Help: "Total number of requests rejected by the replay guard (count)",
		},
		[]string{"source", "reason"},
	)

	DuplicateEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplicate_events_total",
			Help: "Total number of duplicate deliveries short-circuited (count)",
		},
		[]string{"source", "signal"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	LedgerWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_write_failures_total",
			Help: "Event recorder writes that failed and were swallowed (count)",
		},
		[]string{"operation"},
	)

	DLQEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_events_total",
			Help: "Total number of events sent to the dead letter queue (count)",
		},
		[]string{"source", "error_code", "retryable"},
	)

	DLQOrphanedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_orphaned_total",
			Help: "Failed events whose DLQ record could not be written (count)",
		},
		[]string{"source"},
	)

	DLQRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_retries_total",
			Help: "DLQ replay attempts by result (count)",
		},
		[]string{"source", "result"},
	)

	StuckEventsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stuck_events_swept_total",
			Help: "Events left in processing that the sweeper marked failed (count)",
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"database", "operation"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"topic", "status"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"topic"},
	)
)

var registerOnce sync.Once

// Register registers every collector with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			WebhookRequestsTotal,
			WebhookProcessingDuration,
			SignatureVerificationsTotal,
			SignatureRotationKeyUsedTotal,
			ReplayRejectionsTotal,
			DuplicateEventsTotal,
			RateLimitRequestsTotal,
			LedgerWriteFailuresTotal,
			DLQEventsTotal,
			DLQOrphanedTotal,
			DLQRetriesTotal,
			StuckEventsSweptTotal,
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
			DatabaseQueriesTotal,
			DatabaseQueryDuration,
			KafkaMessagesWrittenTotal,
			KafkaWriteDuration,
		)
	})
}

func ObserveWebhook(source, outcome string, duration time.Duration) {
	WebhookRequestsTotal.WithLabelValues(source, outcome).Inc()
	WebhookProcessingDuration.WithLabelValues(source, outcome).Observe(float64(duration.Milliseconds()))
}

func IncSignatureVerification(source, result string) {
	SignatureVerificationsTotal.WithLabelValues(source, result).Inc()
}

func IncRotationKeyUsed(source string, keyIndex int) {
	SignatureRotationKeyUsedTotal.WithLabelValues(source, strconv.Itoa(keyIndex)).Inc()
}

func IncReplayRejection(source, reason string) {
	ReplayRejectionsTotal.WithLabelValues(source, reason).Inc()
}

func IncDuplicate(source, signal string) {
	DuplicateEventsTotal.WithLabelValues(source, signal).Inc()
}

func IncLedgerWriteFailure(operation string) {
	LedgerWriteFailuresTotal.WithLabelValues(operation).Inc()
}

func IncDLQEvent(source, code string, retryable bool) {
	DLQEventsTotal.WithLabelValues(source, code, strconv.FormatBool(retryable)).Inc()
}

func IncDLQOrphaned(source string) {
	DLQOrphanedTotal.WithLabelValues(source).Inc()
}

func IncDLQRetry(source, result string) {
	DLQRetriesTotal.WithLabelValues(source, result).Inc()
}

func IncStuckEventsSwept(n int) {
	StuckEventsSweptTotal.Add(float64(n))
}

func ObserveDatabaseQuery(database, operation string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DatabaseQueriesTotal.WithLabelValues(database, operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(database, operation).Observe(float64(duration.Milliseconds()))
}

func ObserveKafkaWrite(topic string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	KafkaMessagesWrittenTotal.WithLabelValues(topic, status).Inc()
	KafkaWriteDuration.WithLabelValues(topic).Observe(float64(duration.Milliseconds()))
}

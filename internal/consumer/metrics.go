package consumer

import "github.com/prometheus/client_golang/prometheus"

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_consumer",
		Name:      "messages_processed_total",
		Help:      "Number of Kafka messages materialized into the read model.",
	}, []string{"event_type"})

	dedupCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_consumer",
		Name:      "messages_deduplicated_total",
		Help:      "Number of messages skipped because their event_id was already consumed.",
	}, []string{"event_type"})

	skippedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_consumer",
		Name:      "messages_skipped_total",
		Help:      "Number of messages skipped (tombstone, invalid JSON, unknown type, or missing required fields).",
	}, []string{"reason"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_consumer",
		Name:      "handler_errors_total",
		Help:      "Number of transient handler errors, labeled by event type.",
	}, []string{"event_type"})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_consumer",
		Name:      "messages_dlq_total",
		Help:      "Number of messages that exhausted retries and were routed to the consumer DLQ.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(processedCounter, dedupCounter, skippedCounter, handlerErrorCounter, dlqCounter)
}

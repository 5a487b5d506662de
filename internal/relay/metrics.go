package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "game_relay",
		Name:      "events_published_total",
		Help:      "Number of outbox events successfully published to the main topic.",
	})

	retriedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "game_relay",
		Name:      "events_retried_total",
		Help:      "Number of publish attempts that failed and were rescheduled with backoff.",
	})

	deadCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "game_relay",
		Name:      "events_dead_total",
		Help:      "Number of outbox events that reached the dead state after DLQ delivery.",
	})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_relay",
		Name:      "events_dlq_total",
		Help:      "Number of events routed to the DLQ topic, labeled by reason.",
	}, []string{"reason"})

	reclaimedGauge = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "game_relay",
		Name:      "leases_reclaimed_total",
		Help:      "Number of expired processing leases reclaimed back to new.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "game_relay",
		Name:      "batch_duration_seconds",
		Help:      "Time spent reserving, publishing, and finalizing one batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(publishedCounter, retriedCounter, deadCounter, dlqCounter, reclaimedGauge, batchDuration)
}

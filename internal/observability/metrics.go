// Package observability holds cross-cutting metrics shared by more than one
// daemon, following the watermark-gauge pattern the teacher uses for its
// own persistence watermarks.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	readModelWatermark = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "game_pipeline",
		Name:      "read_model_last_updated_timestamp_seconds",
		Help:      "Unix timestamp of the most recent game_read_model row update.",
	})

	outboxOldestPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "game_pipeline",
		Name:      "outbox_oldest_pending_age_seconds",
		Help:      "Age in seconds of the oldest unpublished outbox row observed by the relay.",
	})
)

func init() {
	prometheus.MustRegister(readModelWatermark, outboxOldestPending)
}

// RecordReadModelUpdated updates the read-model watermark gauge.
func RecordReadModelUpdated(ts time.Time) {
	if ts.IsZero() {
		return
	}
	readModelWatermark.Set(float64(ts.Unix()))
}

// RecordOutboxOldestPendingAge updates the oldest-pending-row age gauge.
func RecordOutboxOldestPendingAge(age time.Duration) {
	outboxOldestPending.Set(age.Seconds())
}

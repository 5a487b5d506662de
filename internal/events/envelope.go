// Package events defines the wire envelope and the closed set of domain
// event payloads that flow through the outbox, the relay, and the consumer.
package events

import (
	"encoding/json"
	"time"
)

// AggregateRef identifies the aggregate an event belongs to.
type AggregateRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// DLQMeta is appended by the relay when an event is routed to the DLQ after
// exhausting its publish attempts.
type DLQMeta struct {
	FailedAt string `json:"failed_at"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// SourceRef is appended by the consumer when it routes a poison message to
// the consumer-side DLQ topic, identifying where the record came from.
type SourceRef struct {
	Topic     string  `json:"topic"`
	Partition int     `json:"partition"`
	Offset    int64   `json:"offset"`
	Key       *string `json:"key"`
}

// Envelope is the JSON object published to the main topic (and, augmented,
// to the DLQ). Field names and shapes are the wire contract; do not rename.
type Envelope struct {
	SchemaVersion   int             `json:"schema_version"`
	EventID         string          `json:"event_id"`
	Type            string          `json:"type"`
	Aggregate       AggregateRef    `json:"aggregate"`
	IdempotencyKey  *string         `json:"idempotency_key"`
	CreatedAt       string          `json:"created_at"`
	Payload         json.RawMessage `json:"payload"`
	DLQ             *DLQMeta        `json:"dlq,omitempty"`
	Source          *SourceRef      `json:"src,omitempty"`
	Reason          string          `json:"reason,omitempty"`
}

// FormatRFC3339Z renders t as a UTC RFC3339 timestamp with a literal "Z"
// suffix, matching the wire contract's timestamp convention.
func FormatRFC3339Z(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
}

// Valid reports whether the envelope carries the minimum fields the relay
// and consumer require (event_id, type, aggregate.id). An invalid envelope
// never reaches the main topic; it goes straight to the DLQ path.
func (e Envelope) Valid() bool {
	return e.EventID != "" && e.Type != "" && e.Aggregate.ID != ""
}

// Package outbox provides the transactional outbox writer: the one path by
// which a command handler records an event to be relayed to Kafka. Emit is
// always called inside the same transaction as the aggregate mutation it
// describes, so the event is durable iff the mutation is.
package outbox

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/truebigbossboroda-stack/check-demo-bot/internal/errs"
	"github.com/truebigbossboroda-stack/check-demo-bot/internal/events"
)

// Event is what a command handler hands to Emit: a catalog type, the
// aggregate it belongs to, and an optional idempotency key.
type Event struct {
	Type           string
	AggregateType  string
	AggregateID    string
	Payload        any
	IdempotencyKey *string
}

// Writer appends rows to outbox_events within a caller-supplied transaction.
type Writer struct {
	tx pgx.Tx
}

// New constructs a Writer. tx must be the same transaction the caller will
// commit alongside its aggregate mutation.
func New(tx pgx.Tx) *Writer {
	return &Writer{tx: tx}
}

// Emit inserts ev into outbox_events. If ev.Type requires an idempotency key
// (per events.RequiresIdempotencyKey) and none is set, Emit returns
// *errs.InvalidEmission without touching the database: this is a programming
// error in the caller, not a runtime condition to recover from.
//
// The insert uses ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT
// NULL DO NOTHING, so re-running the same command (e.g. a retried Telegram
// update) produces at most one logical emission regardless of how many times
// Emit is called with the same key.
func (w *Writer) Emit(ctx context.Context, ev Event) error {
	if events.RequiresIdempotencyKey(ev.Type) && (ev.IdempotencyKey == nil || *ev.IdempotencyKey == "") {
		return &errs.InvalidEmission{EventType: ev.Type}
	}

	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO outbox_events (event_type, aggregate_type, aggregate_id, payload, idempotency_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING`

	_, err = w.tx.Exec(ctx, q, ev.Type, ev.AggregateType, ev.AggregateID, raw, ev.IdempotencyKey)
	return err
}

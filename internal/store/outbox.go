package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// OutboxRow is a reserved outbox row ready for delivery.
type OutboxRow struct {
	ID              string
	EventType       string
	AggregateType   string
	AggregateID     string
	IdempotencyKey  *string
	Payload         []byte
	CreatedAt       time.Time
	PublishAttempts int
	LastError       *string
}

// ReclaimExpiredLeases resets any processing row whose lease has expired
// back to new, clearing lock fields. A relay that crashed mid-publish must
// not freeze its reserved events forever.
func (s *Store) ReclaimExpiredLeases(ctx context.Context) (int64, error) {
	const q = `
		UPDATE outbox_events
		SET status = 'new', locked_until = NULL, lock_owner = NULL
		WHERE status = 'processing'
		  AND locked_until IS NOT NULL
		  AND locked_until < now()`
	tag, err := s.pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReserveBatch atomically selects up to limit ready rows and moves them to
// processing, stamped with owner and a lock_ttl-based expiry. Skip-locked
// semantics let multiple relay instances run concurrently without double-assignment.
func (s *Store) ReserveBatch(ctx context.Context, limit int, lockTTL time.Duration, owner string) ([]OutboxRow, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const q = `
		WITH picked AS (
			SELECT id
			FROM outbox_events
			WHERE published_at IS NULL
			  AND status = 'new'
			  AND (next_retry_at IS NULL OR next_retry_at <= now())
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		UPDATE outbox_events o
		SET status = 'processing',
		    locked_until = now() + $2::interval,
		    lock_owner = $3
		FROM picked
		WHERE o.id = picked.id
		RETURNING o.id, o.event_type, o.aggregate_type, o.aggregate_id,
		          o.idempotency_key, o.payload, o.created_at, o.publish_attempts, o.last_error`

	rows, err := tx.Query(ctx, q, limit, lockTTL, owner)
	if err != nil {
		return nil, err
	}

	var batch []OutboxRow
	for rows.Next() {
		var r OutboxRow
		if err := rows.Scan(&r.ID, &r.EventType, &r.AggregateType, &r.AggregateID,
			&r.IdempotencyKey, &r.Payload, &r.CreatedAt, &r.PublishAttempts, &r.LastError); err != nil {
			rows.Close()
			return nil, err
		}
		batch = append(batch, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return batch, nil
}

// MarkSent finalizes a successful publish. The update is guarded by
// status='processing' AND lock_owner=owner; if another relay reclaimed the
// row first, the update is a no-op (LeaseLostError semantics at the caller).
func (s *Store) MarkSent(ctx context.Context, id, owner string) (bool, error) {
	const q = `
		UPDATE outbox_events
		SET status = 'sent', published_at = now(), last_error = NULL,
		    locked_until = NULL, lock_owner = NULL, next_retry_at = NULL
		WHERE id = $1 AND status = 'processing' AND lock_owner = $2`
	tag, err := s.pool.Exec(ctx, q, id, owner)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkRetry schedules a retry: increments publish_attempts, records the
// truncated error, and sets next_retry_at per the backoff schedule.
func (s *Store) MarkRetry(ctx context.Context, id, owner, lastErr string, delay time.Duration) (bool, error) {
	if len(lastErr) > 4000 {
		lastErr = lastErr[:4000]
	}
	const q = `
		UPDATE outbox_events
		SET status = 'new',
		    publish_attempts = publish_attempts + 1,
		    last_error = $3,
		    next_retry_at = now() + $4::interval,
		    locked_until = NULL,
		    lock_owner = NULL
		WHERE id = $1 AND status = 'processing' AND lock_owner = $2`
	tag, err := s.pool.Exec(ctx, q, id, owner, lastErr, delay)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkDead marks a row permanently dead after a successful DLQ publish.
func (s *Store) MarkDead(ctx context.Context, id, owner, lastErr string) (bool, error) {
	if len(lastErr) > 4000 {
		lastErr = lastErr[:4000]
	}
	const q = `
		UPDATE outbox_events
		SET status = 'dead',
		    published_at = now(),
		    publish_attempts = publish_attempts + 1,
		    last_error = $3,
		    locked_until = NULL,
		    lock_owner = NULL,
		    next_retry_at = NULL
		WHERE id = $1 AND status = 'processing' AND lock_owner = $2`
	tag, err := s.pool.Exec(ctx, q, id, owner, lastErr)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CountPendingOutbox reports outbox rows that are not yet published, used by
// the relay's --check readiness mode.
func (s *Store) CountPendingOutbox(ctx context.Context) (int, error) {
	const q = `
		SELECT count(*) FROM outbox_events
		WHERE published_at IS NULL AND status IN ('new','processing')`
	var n int
	if err := s.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

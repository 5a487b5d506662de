package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// AlreadyConsumed reports whether eventID has already been recorded as
// consumed. The consumer checks this inside the same transaction it will
// use to materialize the event, so the check-then-act is atomic.
func (s *Store) AlreadyConsumed(ctx context.Context, tx pgx.Tx, eventID string) (bool, error) {
	const q = `SELECT 1 FROM consumed_events WHERE event_id = $1`
	var one int
	err := tx.QueryRow(ctx, q, eventID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkConsumed records eventID as consumed. eventType may be prefixed with
// "DLQ:" when the event was routed to the consumer-side DLQ instead of
// materialized, per the poison-message handling rule: it is still marked
// consumed so the partition is never stuck replaying it.
func (s *Store) MarkConsumed(ctx context.Context, tx pgx.Tx, eventID, topic string, partition int, offset int64, aggregateType, aggregateID, eventType string) error {
	const q = `
		INSERT INTO consumed_events (event_id, topic, partition, "offset", aggregate_type, aggregate_id, event_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING`
	_, err := tx.Exec(ctx, q, eventID, topic, partition, offset, aggregateType, aggregateID, eventType)
	return err
}

// RecomputeReadModel invokes the recompute_game_read_model function for
// gameID. It is the only path by which game_read_model is written: the
// consumer calls it after every materializable event, never a trigger.
func (s *Store) RecomputeReadModel(ctx context.Context, tx pgx.Tx, gameID string) error {
	_, err := tx.Exec(ctx, `SELECT recompute_game_read_model($1)`, gameID)
	return err
}

// MaxConsumedOffset returns the highest offset recorded as consumed for
// topic/partition, or -1 if nothing has been consumed yet. Used by the
// consumer's --check mode to estimate lag against Kafka's high watermark.
func (s *Store) MaxConsumedOffset(ctx context.Context, topic string, partition int) (int64, error) {
	const q = `SELECT COALESCE(MAX("offset"), -1) FROM consumed_events WHERE topic = $1 AND partition = $2`
	var offset int64
	if err := s.pool.QueryRow(ctx, q, topic, partition).Scan(&offset); err != nil {
		return 0, err
	}
	return offset, nil
}

// ReadModelByChat returns the current read-model row for a chat, used by
// admin queries.
func (s *Store) ReadModelByChat(ctx context.Context, chatID int64) (*ReadModelRow, error) {
	const q = `
		SELECT chat_id, game_id, status, current_phase, phase_seq, round_num,
		       phase_started_at, expires_at, owner_tg_user_id,
		       players_total, players_active, ready_count, ready_total, updated_at
		FROM game_read_model
		WHERE chat_id = $1`
	row := s.pool.QueryRow(ctx, q, chatID)
	var r ReadModelRow
	if err := row.Scan(&r.ChatID, &r.GameID, &r.Status, &r.CurrentPhase, &r.PhaseSeq, &r.RoundNum,
		&r.PhaseStartedAt, &r.ExpiresAt, &r.OwnerTgUserID,
		&r.PlayersTotal, &r.PlayersActive, &r.ReadyCount, &r.ReadyTotal, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

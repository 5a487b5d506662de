// Package adminquery provides the read-only queries an external admin
// surface would expose over HTTP. Building the HTTP/auth layer itself is
// out of scope; this package is the part of that surface worth grounding in
// Go, query-for-query against the reference admin routers.
package adminquery

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/truebigbossboroda-stack/check-demo-bot/internal/store"
)

// Queries wraps a pool for read-only admin lookups.
type Queries struct {
	pool *pgxpool.Pool
}

// New constructs Queries backed by pool.
func New(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

// CurrentSessionByChat returns the read-model row for chatID, mirroring
// admin_api's /sessions/current.
func (q *Queries) CurrentSessionByChat(ctx context.Context, chatID int64) (*store.ReadModelRow, error) {
	const sql = `
		SELECT chat_id, game_id, status, current_phase, phase_seq, round_num,
		       phase_started_at, expires_at, owner_tg_user_id,
		       players_total, players_active, ready_count, ready_total, updated_at
		FROM game_read_model WHERE chat_id = $1`
	row := q.pool.QueryRow(ctx, sql, chatID)
	var r store.ReadModelRow
	if err := row.Scan(&r.ChatID, &r.GameID, &r.Status, &r.CurrentPhase, &r.PhaseSeq, &r.RoundNum,
		&r.PhaseStartedAt, &r.ExpiresAt, &r.OwnerTgUserID,
		&r.PlayersTotal, &r.PlayersActive, &r.ReadyCount, &r.ReadyTotal, &r.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// SessionHistory lists sessions ever created for chatID, newest first,
// mirroring admin_api's /sessions/history.
func (q *Queries) SessionHistory(ctx context.Context, chatID int64, limit int) ([]store.Session, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const sql = `
		SELECT id, chat_id, status, owner_tg_user_id, round_num, current_phase,
		       phase_seq, phase_started_at, created_at, expires_at, archived_at
		FROM game_sessions
		WHERE chat_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := q.pool.Query(ctx, sql, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		var s store.Session
		if err := rows.Scan(&s.ID, &s.ChatID, &s.Status, &s.OwnerTgUserID, &s.RoundNum, &s.CurrentPhase,
			&s.PhaseSeq, &s.PhaseStartedAt, &s.CreatedAt, &s.ExpiresAt, &s.ArchivedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// OutboxRow is a projection of outbox_events for admin inspection.
type OutboxRow struct {
	ID              string
	EventType       string
	AggregateType   string
	AggregateID     string
	IdempotencyKey  *string
	Status          string
	PublishAttempts int
	LastError       *string
}

// OutboxByAggregate lists outbox rows for a given aggregate (typically a
// session id), newest first, mirroring admin_api's /outbox/by-chat (after
// resolving chat_id to game_id via the read model).
func (q *Queries) OutboxByAggregate(ctx context.Context, aggregateType, aggregateID string, limit int) ([]OutboxRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	const sql = `
		SELECT id, event_type, aggregate_type, aggregate_id, idempotency_key,
		       status, publish_attempts, last_error
		FROM outbox_events
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY created_at DESC
		LIMIT $3`
	rows, err := q.pool.Query(ctx, sql, aggregateType, aggregateID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var r OutboxRow
		if err := rows.Scan(&r.ID, &r.EventType, &r.AggregateType, &r.AggregateID,
			&r.IdempotencyKey, &r.Status, &r.PublishAttempts, &r.LastError); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UnpublishedOutbox lists outbox rows not yet published, oldest first,
// mirroring admin_api's /outbox/unpublished.
func (q *Queries) UnpublishedOutbox(ctx context.Context, limit int) ([]OutboxRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	const sql = `
		SELECT id, event_type, aggregate_type, aggregate_id, idempotency_key,
		       status, publish_attempts, last_error
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`
	rows, err := q.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var r OutboxRow
		if err := rows.Scan(&r.ID, &r.EventType, &r.AggregateType, &r.AggregateID,
			&r.IdempotencyKey, &r.Status, &r.PublishAttempts, &r.LastError); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReadySummary reports ready-mark progress for chatID's current session at
// its current phase_seq, mirroring admin_api's /ready/summary + /ready/current.
type ReadySummary struct {
	ChatID     int64
	GameID     string
	PhaseSeq   int
	ReadyCount int
	ReadyTotal int
}

func (q *Queries) ReadySummary(ctx context.Context, chatID int64) (*ReadySummary, error) {
	rm, err := q.CurrentSessionByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return &ReadySummary{
		ChatID:     chatID,
		GameID:     rm.GameID,
		PhaseSeq:   rm.PhaseSeq,
		ReadyCount: rm.ReadyCount,
		ReadyTotal: rm.ReadyTotal,
	}, nil
}

// AuditRow is a projection of game_audit_log for admin inspection.
type AuditRow struct {
	ID            string
	GameID        string
	ChatID        int64
	ActorTgUserID *int64
	ActionType    string
	PhaseSeq      *int
	RoundNum      *int
	CreatedAt     string
}

// RecentAudit lists audit rows for chatID, newest first, mirroring
// admin_api's /audit/by-chat.
func (q *Queries) RecentAudit(ctx context.Context, chatID int64, limit int) ([]AuditRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const sql = `
		SELECT id, game_id, chat_id, actor_tg_user_id, action_type, phase_seq, round_num, created_at::text
		FROM game_audit_log
		WHERE chat_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := q.pool.Query(ctx, sql, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var r AuditRow
		if err := rows.Scan(&r.ID, &r.GameID, &r.ChatID, &r.ActorTgUserID, &r.ActionType, &r.PhaseSeq, &r.RoundNum, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

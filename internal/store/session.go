package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// LockCurrentSession acquires a row lock on the session currently in
// {lobby, active} for chatID, newest first, matching lock_game_row /
// get_current_session in the reference implementation.
func (s *Store) LockCurrentSession(ctx context.Context, tx pgx.Tx, chatID int64) (*Session, error) {
	const q = `
		SELECT id, chat_id, status, owner_tg_user_id, round_num, current_phase,
		       phase_seq, phase_started_at, afk_timeout_seconds, created_at, expires_at, archived_at
		FROM game_sessions
		WHERE chat_id = $1
		  AND status IN ('lobby','active')
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`

	row := tx.QueryRow(ctx, q, chatID)
	var sess Session
	if err := row.Scan(&sess.ID, &sess.ChatID, &sess.Status, &sess.OwnerTgUserID, &sess.RoundNum,
		&sess.CurrentPhase, &sess.PhaseSeq, &sess.PhaseStartedAt, &sess.AFKTimeoutSeconds,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.ArchivedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

// ArchivePriorSessions archives any session for chatID still in {lobby,
// active}, run before creating a new one so the at-most-one-active invariant
// never transiently breaks.
func (s *Store) ArchivePriorSessions(ctx context.Context, tx pgx.Tx, chatID int64) ([]string, error) {
	const q = `
		UPDATE game_sessions
		SET status = 'archived', archived_at = now()
		WHERE chat_id = $1
		  AND status IN ('lobby','active')
		RETURNING id`

	rows, err := tx.Query(ctx, q, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertSession creates a new session row and returns it with its generated ID.
func (s *Store) InsertSession(ctx context.Context, tx pgx.Tx, chatID int64, owner *int64, afkTimeoutSeconds int, expiresAt time.Time) (*Session, error) {
	const q = `
		INSERT INTO game_sessions (chat_id, owner_tg_user_id, afk_timeout_seconds, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, chat_id, status, owner_tg_user_id, round_num, current_phase,
		          phase_seq, phase_started_at, afk_timeout_seconds, created_at, expires_at, archived_at`

	row := tx.QueryRow(ctx, q, chatID, owner, afkTimeoutSeconds, expiresAt)
	var sess Session
	if err := row.Scan(&sess.ID, &sess.ChatID, &sess.Status, &sess.OwnerTgUserID, &sess.RoundNum,
		&sess.CurrentPhase, &sess.PhaseSeq, &sess.PhaseStartedAt, &sess.AFKTimeoutSeconds,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.ArchivedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetPlayerByTgUser looks up a player by their external Telegram user id.
func (s *Store) GetPlayerByTgUser(ctx context.Context, tx pgx.Tx, gameID string, tgUserID int64) (*Player, error) {
	const q = `
		SELECT id, game_id, tg_user_id, country_id, country_code, country_name, joined_at, is_active, is_afk, last_action_at
		FROM game_players
		WHERE game_id = $1 AND tg_user_id = $2`

	row := tx.QueryRow(ctx, q, gameID, tgUserID)
	var p Player
	if err := row.Scan(&p.ID, &p.GameID, &p.TgUserID, &p.CountryID, &p.CountryCode, &p.CountryName,
		&p.JoinedAt, &p.IsActive, &p.IsAFK, &p.LastActionAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// InsertPlayer adds a player to a session. Uniqueness per (game, country)
// and (game, tg_user_id) is enforced by the schema.
func (s *Store) InsertPlayer(ctx context.Context, tx pgx.Tx, gameID string, tgUserID int64, countryID, countryCode, countryName string) (*Player, error) {
	const q = `
		INSERT INTO game_players (game_id, tg_user_id, country_id, country_code, country_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, game_id, tg_user_id, country_id, country_code, country_name, joined_at, is_active, is_afk, last_action_at`

	row := tx.QueryRow(ctx, q, gameID, tgUserID, countryID, countryCode, countryName)
	var p Player
	if err := row.Scan(&p.ID, &p.GameID, &p.TgUserID, &p.CountryID, &p.CountryCode, &p.CountryName,
		&p.JoinedAt, &p.IsActive, &p.IsAFK, &p.LastActionAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// CountActivePlayers counts players that are active and not AFK.
func (s *Store) CountActivePlayers(ctx context.Context, tx pgx.Tx, gameID string) (int, error) {
	const q = `
		SELECT count(*)::int FROM game_players
		WHERE game_id = $1 AND is_active IS TRUE AND is_afk IS FALSE`
	var n int
	if err := tx.QueryRow(ctx, q, gameID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// MarkReady records a ready mark for player at phaseSeq. Callers must have
// already checked phase_seq freshness and player liveness: unlike the
// reference schema, this table carries no enforcing trigger, so the
// invariant lives in the command handler (see internal/command).
func (s *Store) MarkReady(ctx context.Context, tx pgx.Tx, gameID, playerID string, phaseSeq int) error {
	const q = `
		INSERT INTO game_phase_ready (game_id, player_id, phase_seq)
		VALUES ($1, $2, $3)
		ON CONFLICT (game_id, player_id, phase_seq) DO NOTHING`
	_, err := tx.Exec(ctx, q, gameID, playerID, phaseSeq)
	return err
}

// CountReady counts ready marks recorded for gameID at phaseSeq whose
// player is currently active and not AFK.
func (s *Store) CountReady(ctx context.Context, tx pgx.Tx, gameID string, phaseSeq int) (int, error) {
	const q = `
		SELECT count(*)::int FROM game_phase_ready r
		JOIN game_players p ON p.id = r.player_id
		WHERE r.game_id = $1 AND r.phase_seq = $2
		  AND p.is_active IS TRUE AND p.is_afk IS FALSE`
	var n int
	if err := tx.QueryRow(ctx, q, gameID, phaseSeq).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// SetPhase advances the session to newPhaseSeq/newPhase and stamps
// phase_started_at. Callers must call DeleteReadyMarks in the same
// transaction: phase_seq and current_phase changes always clear ready marks.
func (s *Store) SetPhase(ctx context.Context, tx pgx.Tx, gameID string, newPhaseSeq int, newPhase string) error {
	const q = `
		UPDATE game_sessions
		SET phase_seq = $2, current_phase = $3, phase_started_at = now()
		WHERE id = $1`
	_, err := tx.Exec(ctx, q, gameID, newPhaseSeq, newPhase)
	return err
}

// DeleteReadyMarks clears all ready marks for a session, called on every
// phase_seq/current_phase change.
func (s *Store) DeleteReadyMarks(ctx context.Context, tx pgx.Tx, gameID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM game_phase_ready WHERE game_id = $1`, gameID)
	return err
}

// SetRoundNum updates round_num, used when a resolve phase rolls into the
// next round's income phase.
func (s *Store) SetRoundNum(ctx context.Context, tx pgx.Tx, gameID string, roundNum int) error {
	_, err := tx.Exec(ctx, `UPDATE game_sessions SET round_num = $2 WHERE id = $1`, gameID, roundNum)
	return err
}

// SetStatus sets a session's status (active, finished, archived); archiving
// also stamps archived_at.
func (s *Store) SetStatus(ctx context.Context, tx pgx.Tx, gameID, status string) error {
	if status == "archived" {
		_, err := tx.Exec(ctx, `UPDATE game_sessions SET status = $2, archived_at = now() WHERE id = $1`, gameID, status)
		return err
	}
	_, err := tx.Exec(ctx, `UPDATE game_sessions SET status = $2 WHERE id = $1`, gameID, status)
	return err
}

// InsertAudit appends an audit row. Audit rows carry no idempotency key:
// they are side-effects of an idempotent command, not independently retried.
func (s *Store) InsertAudit(ctx context.Context, tx pgx.Tx, e AuditEntry) error {
	const q = `
		INSERT INTO game_audit_log (game_id, chat_id, actor_tg_user_id, action_type, phase_seq, round_num, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := tx.Exec(ctx, q, e.GameID, e.ChatID, e.ActorTgUserID, e.ActionType, e.PhaseSeq, e.RoundNum, e.Payload)
	return err
}

// InsertSnapshot appends a state snapshot row.
func (s *Store) InsertSnapshot(ctx context.Context, tx pgx.Tx, snap Snapshot) error {
	const q = `
		INSERT INTO game_state_snapshots (game_id, chat_id, phase_seq, round_num, snapshot)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := tx.Exec(ctx, q, snap.GameID, snap.ChatID, snap.PhaseSeq, snap.RoundNum, snap.Data)
	return err
}

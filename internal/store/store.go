// Package store provides Postgres-backed persistence for the game-session
// aggregate, the outbox relay state machine, and the consumer's dedup log.
// It holds the SQL for command handlers, the relay, and the consumer; the
// outbox insert lives in internal/outbox and the read-only admin queries in
// internal/adminquery.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a connection pool and exposes the transactional primitives the
// rest of the system relies on.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store backed by the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool; the daemons' --check modes use it to
// ping the database.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// BeginTx opens a transaction. Command handlers use exactly one per command:
// lock the session, mutate it, append audit, emit outbox, commit.
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.pool.BeginTx(ctx, pgx.TxOptions{})
}

// Session is the game-session aggregate root.
type Session struct {
	ID                string
	ChatID            int64
	Status            string
	OwnerTgUserID     *int64
	RoundNum          int
	CurrentPhase      string
	PhaseSeq          int
	PhaseStartedAt    time.Time
	AFKTimeoutSeconds int
	CreatedAt         time.Time
	ExpiresAt         time.Time
	ArchivedAt        *time.Time
}

// Player belongs to exactly one session.
type Player struct {
	ID           string
	GameID       string
	TgUserID     int64
	CountryID    string
	CountryCode  string
	CountryName  string
	JoinedAt     time.Time
	IsActive     bool
	IsAFK        bool
	LastActionAt *time.Time
}

// AuditEntry is an append-only record of a command's effect.
type AuditEntry struct {
	GameID         string
	ChatID         int64
	ActorTgUserID  *int64
	ActionType     string
	PhaseSeq       *int
	RoundNum       *int
	Payload        []byte
}

// Snapshot is an append-only point-in-time capture of game state.
type Snapshot struct {
	GameID   string
	ChatID   int64
	RoundNum int
	PhaseSeq int
	Data     []byte
}

// ReadModelRow is the denormalized per-chat view.
type ReadModelRow struct {
	ChatID          int64
	GameID          string
	Status          string
	CurrentPhase    string
	PhaseSeq        int
	RoundNum        int
	PhaseStartedAt  time.Time
	ExpiresAt       time.Time
	OwnerTgUserID   *int64
	PlayersTotal    int
	PlayersActive   int
	ReadyCount      int
	ReadyTotal      int
	UpdatedAt       time.Time
}


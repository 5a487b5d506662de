package events

import "fmt"

// Event types in the catalog. Each has a payload struct below, and the
// command handlers pass one of these structs as outbox.Event.Payload; the
// outbox writer itself takes any JSON-marshalable payload and does not check
// it against the event type. Serialization is a straight projection onto
// Envelope.Payload.
const (
	TypeGameCreated     = "game.created"
	TypePlayerJoined    = "player.joined"
	TypePhaseChanged    = "phase.changed"
	TypeRoundStarted    = "round.started"
	TypeRoundResolved   = "round.resolved"
	TypePlayerReadySet  = "player.ready_set"
	TypeSnapshotCreated = "snapshot.created"
	TypeGameFinished    = "game.finished"
	TypeGameArchived    = "game.archived"
)

// requiredIdempotencyTypes is the configured set of event types that must
// carry an idempotency key. Any type beginning with "admin." is required too.
var requiredIdempotencyTypes = map[string]bool{
	TypeGameCreated:     true,
	TypePlayerJoined:    true,
	TypePhaseChanged:    true,
	TypeRoundStarted:    true,
	TypeRoundResolved:   true,
	TypeSnapshotCreated: true,
	TypeGameFinished:    true,
	TypeGameArchived:    true,
}

// RequiresIdempotencyKey reports whether eventType must carry a non-empty
// idempotency key when emitted.
func RequiresIdempotencyKey(eventType string) bool {
	if requiredIdempotencyTypes[eventType] {
		return true
	}
	return len(eventType) >= len("admin.") && eventType[:len("admin.")] == "admin."
}

// GameCreated is emitted when a new session is created for a chat.
type GameCreated struct {
	ChatID   int64  `json:"chat_id"`
	Owner    int64  `json:"owner"`
	Status   string `json:"status"`
	Phase    string `json:"phase"`
	PhaseSeq int    `json:"phase_seq"`
}

// GameCreatedKey is the idempotency key template for game.created.
func GameCreatedKey(sessionID string) string {
	return fmt.Sprintf("game.created:%s", sessionID)
}

// PlayerJoined is emitted when a player joins a session.
type PlayerJoined struct {
	PlayerID    string `json:"player_id"`
	CountryCode string `json:"country_code"`
	CountryName string `json:"country_name"`
	ChatID      int64  `json:"chat_id"`
}

// PlayerJoinedKey is the idempotency key template for player.joined,
// resolving Open Question #3 from the distilled spec in favor of requiring one.
func PlayerJoinedKey(sessionID string, tgUserID int64) string {
	return fmt.Sprintf("player.joined:%s:%d", sessionID, tgUserID)
}

// PhaseChanged is emitted on every phase advance.
type PhaseChanged struct {
	ChatID   int64  `json:"chat_id"`
	NewPhase string `json:"new_phase"`
	PhaseSeq int    `json:"phase_seq"`
	RoundNum int    `json:"round_num"`
}

// PhaseChangedKey is the idempotency key template for phase.changed.
func PhaseChangedKey(sessionID string, phaseSeq int) string {
	return fmt.Sprintf("phase.changed:%s:%d", sessionID, phaseSeq)
}

// RoundStarted is emitted when a new round begins (current_phase enters income).
type RoundStarted struct {
	ChatID   int64 `json:"chat_id"`
	RoundNum int   `json:"round_num"`
	PhaseSeq int   `json:"phase_seq"`
}

// RoundStartedKey is the idempotency key template for round.started.
func RoundStartedKey(sessionID string, roundNum int) string {
	return fmt.Sprintf("round.started:%s:%d", sessionID, roundNum)
}

// RoundResolved is emitted when a round's resolve phase completes.
type RoundResolved struct {
	ChatID   int64 `json:"chat_id"`
	RoundNum int   `json:"round_num"`
}

// RoundResolvedKey is the idempotency key template for round.resolved.
func RoundResolvedKey(sessionID string, roundNum int) string {
	return fmt.Sprintf("round.resolved:%s:%d", sessionID, roundNum)
}

// PlayerReadySet is emitted when a player marks ready for the current phase.
type PlayerReadySet struct {
	ChatID   int64  `json:"chat_id"`
	PlayerID string `json:"player_id"`
	PhaseSeq int    `json:"phase_seq"`
}

// PlayerReadySetKey is the idempotency key template for player.ready_set.
func PlayerReadySetKey(sessionID, playerID string, phaseSeq int) string {
	return fmt.Sprintf("player.ready_set:%s:%s:%d", sessionID, playerID, phaseSeq)
}

// SnapshotCreated is emitted when an admin snapshot is taken.
type SnapshotCreated struct {
	ChatID   int64 `json:"chat_id"`
	PhaseSeq int   `json:"phase_seq"`
	RoundNum int   `json:"round_num"`
}

// SnapshotCreatedKey is the idempotency key template for snapshot.created.
func SnapshotCreatedKey(sessionID string, phaseSeq, roundNum int) string {
	return fmt.Sprintf("admin.snapshot:%s:%d:%d", sessionID, phaseSeq, roundNum)
}

// GameFinished is emitted when a session reaches its terminal finished state.
type GameFinished struct {
	ChatID int64 `json:"chat_id"`
}

// GameFinishedKey is the idempotency key template for game.finished.
func GameFinishedKey(sessionID string) string {
	return fmt.Sprintf("game.finished:%s", sessionID)
}

// GameArchived is emitted when a session is archived, either directly or as
// a side effect of a new session being created for the same chat.
type GameArchived struct {
	ChatID int64 `json:"chat_id"`
}

// GameArchivedKey is the idempotency key template for game.archived.
func GameArchivedKey(sessionID string) string {
	return fmt.Sprintf("admin.archive:%s", sessionID)
}

// MaterializeTypes is the set of event types the consumer materializes into
// the read model. Any other type is counted as skipped.
var MaterializeTypes = map[string]bool{
	TypeGameCreated:     true,
	TypePlayerJoined:    true,
	TypePhaseChanged:    true,
	TypeRoundStarted:    true,
	TypeRoundResolved:   true,
	TypeGameFinished:    true,
	TypeGameArchived:    true,
	TypeSnapshotCreated: true,
}

// Package command implements the game-session aggregate's command surface:
// every mutation the orchestrator can issue, each opening exactly one
// transaction that locks the session, validates preconditions, mutates
// state, appends an audit row, and emits an outbox event — all atomically.
package command

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/truebigbossboroda-stack/check-demo-bot/internal/errs"
	"github.com/truebigbossboroda-stack/check-demo-bot/internal/events"
	"github.com/truebigbossboroda-stack/check-demo-bot/internal/outbox"
	"github.com/truebigbossboroda-stack/check-demo-bot/internal/store"
)

// phaseOrder is the in-round phase cycle. AdvancePhase walks this table;
// "resolve" has no successor here because crossing a round boundary is
// ResolveRound's job, not AdvancePhase's.
var phaseOrder = map[string]string{
	"lobby":         "income",
	"income":        "event",
	"event":         "world_arena",
	"world_arena":   "negotiations",
	"negotiations":  "orders",
	"orders":        "resolve",
}

// DefaultAFKTimeoutSeconds is used by CreateGame when the caller does not
// specify one.
const DefaultAFKTimeoutSeconds = 300

// DefaultSessionTTL bounds how long a session may sit idle before it is
// eligible for external expiry tooling to reclaim it.
const DefaultSessionTTL = 24 * time.Hour

// Handlers wraps the store all command methods use to open their
// transaction and the event types they may emit.
type Handlers struct {
	store *store.Store
}

// New constructs a Handlers backed by st.
func New(st *store.Store) *Handlers {
	return &Handlers{store: st}
}

// PhaseResult reports the outcome of AdvancePhase.
type PhaseResult struct {
	OK       bool
	Message  string
	NewPhase string
}

// ReadyResult reports the outcome of SetReady.
type ReadyResult struct {
	OK         bool
	Message    string
	ReadyCount int
	ActiveCount int
}

// ResolveResult reports the outcome of ResolveRound.
type ResolveResult struct {
	OK       bool
	Message  string
	RoundNum int
}

func emit(ctx context.Context, w *outbox.Writer, eventType, aggregateID string, payload any, key string) error {
	var keyPtr *string
	if key != "" {
		keyPtr = &key
	}
	return w.Emit(ctx, outbox.Event{
		Type:           eventType,
		AggregateType:  "game_session",
		AggregateID:    aggregateID,
		Payload:        payload,
		IdempotencyKey: keyPtr,
	})
}

func auditPayload(v any) []byte {
	raw, _ := json.Marshal(v)
	return raw
}

// CreateGame archives any prior lobby/active session for chatID and creates
// a fresh one in status=lobby, current_phase=lobby, phase_seq=0.
func (h *Handlers) CreateGame(ctx context.Context, chatID int64, owner int64, afkTimeoutSeconds int) (*store.Session, error) {
	if afkTimeoutSeconds <= 0 {
		afkTimeoutSeconds = DefaultAFKTimeoutSeconds
	}

	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	archivedIDs, err := h.store.ArchivePriorSessions(ctx, tx, chatID)
	if err != nil {
		return nil, err
	}

	w := outbox.New(tx)
	for _, sid := range archivedIDs {
		if err := emit(ctx, w, events.TypeGameArchived, sid, events.GameArchived{ChatID: chatID}, events.GameArchivedKey(sid)); err != nil {
			return nil, err
		}
	}

	expiresAt := time.Now().UTC().Add(DefaultSessionTTL)
	sess, err := h.store.InsertSession(ctx, tx, chatID, &owner, afkTimeoutSeconds, expiresAt)
	if err != nil {
		return nil, err
	}

	if err := h.store.InsertAudit(ctx, tx, store.AuditEntry{
		GameID:        sess.ID,
		ChatID:        chatID,
		ActorTgUserID: &owner,
		ActionType:    "game.created",
		PhaseSeq:      &sess.PhaseSeq,
		RoundNum:      &sess.RoundNum,
		Payload:       auditPayload(map[string]any{"owner": owner}),
	}); err != nil {
		return nil, err
	}

	if err := emit(ctx, w, events.TypeGameCreated, sess.ID, events.GameCreated{
		ChatID: chatID, Owner: owner, Status: sess.Status, Phase: sess.CurrentPhase, PhaseSeq: sess.PhaseSeq,
	}, events.GameCreatedKey(sess.ID)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// JoinGame adds a player to chatID's current session under countryID/Code/Name.
func (h *Handlers) JoinGame(ctx context.Context, chatID int64, tgUserID int64, countryID, countryCode, countryName string) (*store.Player, error) {
	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sess, err := h.store.LockCurrentSession(ctx, tx, chatID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, &errs.DomainPreconditionError{Message: "no active game in this chat"}
		}
		return nil, err
	}

	if existing, err := h.store.GetPlayerByTgUser(ctx, tx, sess.ID, tgUserID); err == nil && existing != nil {
		return nil, &errs.DomainPreconditionError{Message: "already joined"}
	} else if err != nil && err != store.ErrNotFound {
		return nil, err
	}

	if countryID == "" {
		countryID = uuid.NewString()
	}

	player, err := h.store.InsertPlayer(ctx, tx, sess.ID, tgUserID, countryID, countryCode, countryName)
	if err != nil {
		return nil, err
	}

	if err := h.store.InsertAudit(ctx, tx, store.AuditEntry{
		GameID:        sess.ID,
		ChatID:        chatID,
		ActorTgUserID: &tgUserID,
		ActionType:    "player.joined",
		PhaseSeq:      &sess.PhaseSeq,
		RoundNum:      &sess.RoundNum,
		Payload:       auditPayload(map[string]any{"country_code": countryCode}),
	}); err != nil {
		return nil, err
	}

	w := outbox.New(tx)
	if err := emit(ctx, w, events.TypePlayerJoined, sess.ID, events.PlayerJoined{
		PlayerID: player.ID, CountryCode: countryCode, CountryName: countryName, ChatID: chatID,
	}, events.PlayerJoinedKey(sess.ID, tgUserID)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return player, nil
}

// SetReady mirrors handle_ready: marks the calling player ready for the
// session's current phase_seq, rejecting inactive/AFK players.
func (h *Handlers) SetReady(ctx context.Context, chatID int64, tgUserID int64) (*ReadyResult, error) {
	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sess, err := h.store.LockCurrentSession(ctx, tx, chatID)
	if err != nil {
		if err == store.ErrNotFound {
			return &ReadyResult{OK: false, Message: "no active game in this chat"}, nil
		}
		return nil, err
	}

	player, err := h.store.GetPlayerByTgUser(ctx, tx, sess.ID, tgUserID)
	if err != nil {
		if err == store.ErrNotFound {
			return &ReadyResult{OK: false, Message: "not in this game"}, nil
		}
		return nil, err
	}
	if !player.IsActive || player.IsAFK {
		return &ReadyResult{OK: false, Message: "inactive or AFK players cannot ready up"}, nil
	}

	if err := h.store.MarkReady(ctx, tx, sess.ID, player.ID, sess.PhaseSeq); err != nil {
		return nil, err
	}

	activeCount, err := h.store.CountActivePlayers(ctx, tx, sess.ID)
	if err != nil {
		return nil, err
	}
	readyCount, err := h.store.CountReady(ctx, tx, sess.ID, sess.PhaseSeq)
	if err != nil {
		return nil, err
	}

	if err := h.store.InsertAudit(ctx, tx, store.AuditEntry{
		GameID:        sess.ID,
		ChatID:        chatID,
		ActorTgUserID: &tgUserID,
		ActionType:    "player.ready_set",
		PhaseSeq:      &sess.PhaseSeq,
		RoundNum:      &sess.RoundNum,
		Payload:       auditPayload(map[string]any{"ready_count": readyCount, "active_count": activeCount}),
	}); err != nil {
		return nil, err
	}

	w := outbox.New(tx)
	if err := emit(ctx, w, events.TypePlayerReadySet, sess.ID, events.PlayerReadySet{
		ChatID: chatID, PlayerID: player.ID, PhaseSeq: sess.PhaseSeq,
	}, events.PlayerReadySetKey(sess.ID, player.ID, sess.PhaseSeq)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &ReadyResult{OK: true, ReadyCount: readyCount, ActiveCount: activeCount}, nil
}

// AdvancePhase walks the session to the next in-round phase, gated on every
// active-not-AFK player having readied for the current phase_seq.
func (h *Handlers) AdvancePhase(ctx context.Context, chatID int64) (*PhaseResult, error) {
	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sess, err := h.store.LockCurrentSession(ctx, tx, chatID)
	if err != nil {
		if err == store.ErrNotFound {
			return &PhaseResult{OK: false, Message: "no active game"}, nil
		}
		return nil, err
	}

	next, ok := phaseOrder[sess.CurrentPhase]
	if !ok {
		return &PhaseResult{OK: false, Message: "phase " + sess.CurrentPhase + " cannot be advanced directly; resolve the round instead"}, nil
	}

	activeCount, err := h.store.CountActivePlayers(ctx, tx, sess.ID)
	if err != nil {
		return nil, err
	}
	if activeCount == 0 {
		return &PhaseResult{OK: false, Message: "no active players"}, nil
	}
	readyCount, err := h.store.CountReady(ctx, tx, sess.ID, sess.PhaseSeq)
	if err != nil {
		return nil, err
	}
	if readyCount < activeCount {
		return &PhaseResult{OK: false, Message: "not everyone is ready yet"}, nil
	}

	newSeq := sess.PhaseSeq + 1
	roundNum := sess.RoundNum
	startingFirstRound := sess.CurrentPhase == "lobby"
	if startingFirstRound {
		roundNum = 1
		if err := h.store.SetRoundNum(ctx, tx, sess.ID, roundNum); err != nil {
			return nil, err
		}
		if err := h.store.SetStatus(ctx, tx, sess.ID, "active"); err != nil {
			return nil, err
		}
	}

	if err := h.store.SetPhase(ctx, tx, sess.ID, newSeq, next); err != nil {
		return nil, err
	}
	if err := h.store.DeleteReadyMarks(ctx, tx, sess.ID); err != nil {
		return nil, err
	}

	if err := h.store.InsertAudit(ctx, tx, store.AuditEntry{
		GameID:     sess.ID,
		ChatID:     chatID,
		ActionType: "phase.changed",
		PhaseSeq:   &newSeq,
		RoundNum:   &roundNum,
		Payload:    auditPayload(map[string]any{"new_phase": next}),
	}); err != nil {
		return nil, err
	}

	w := outbox.New(tx)
	if err := emit(ctx, w, events.TypePhaseChanged, sess.ID, events.PhaseChanged{
		ChatID: chatID, NewPhase: next, PhaseSeq: newSeq, RoundNum: roundNum,
	}, events.PhaseChangedKey(sess.ID, newSeq)); err != nil {
		return nil, err
	}
	if startingFirstRound {
		if err := emit(ctx, w, events.TypeRoundStarted, sess.ID, events.RoundStarted{
			ChatID: chatID, RoundNum: roundNum, PhaseSeq: newSeq,
		}, events.RoundStartedKey(sess.ID, roundNum)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &PhaseResult{OK: true, NewPhase: next}, nil
}

// ResolveRound closes out a resolve phase: rolls round_num forward and moves
// the session into the next round's income phase. It is the only path that
// crosses a round boundary.
func (h *Handlers) ResolveRound(ctx context.Context, chatID int64) (*ResolveResult, error) {
	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sess, err := h.store.LockCurrentSession(ctx, tx, chatID)
	if err != nil {
		if err == store.ErrNotFound {
			return &ResolveResult{OK: false, Message: "no active game"}, nil
		}
		return nil, err
	}
	if sess.CurrentPhase != "resolve" {
		return &ResolveResult{OK: false, Message: "round is not in its resolve phase"}, nil
	}

	activeCount, err := h.store.CountActivePlayers(ctx, tx, sess.ID)
	if err != nil {
		return nil, err
	}
	readyCount, err := h.store.CountReady(ctx, tx, sess.ID, sess.PhaseSeq)
	if err != nil {
		return nil, err
	}
	if activeCount == 0 || readyCount < activeCount {
		return &ResolveResult{OK: false, Message: "not everyone is ready yet"}, nil
	}

	finishedRound := sess.RoundNum
	newRound := sess.RoundNum + 1
	newSeq := sess.PhaseSeq + 1

	if err := h.store.SetPhase(ctx, tx, sess.ID, newSeq, "income"); err != nil {
		return nil, err
	}
	if err := h.store.SetRoundNum(ctx, tx, sess.ID, newRound); err != nil {
		return nil, err
	}
	if err := h.store.DeleteReadyMarks(ctx, tx, sess.ID); err != nil {
		return nil, err
	}

	if err := h.store.InsertAudit(ctx, tx, store.AuditEntry{
		GameID:     sess.ID,
		ChatID:     chatID,
		ActionType: "round.resolved",
		PhaseSeq:   &newSeq,
		RoundNum:   &finishedRound,
		Payload:    auditPayload(map[string]any{"finished_round": finishedRound, "new_round": newRound}),
	}); err != nil {
		return nil, err
	}

	w := outbox.New(tx)
	if err := emit(ctx, w, events.TypeRoundResolved, sess.ID, events.RoundResolved{
		ChatID: chatID, RoundNum: finishedRound,
	}, events.RoundResolvedKey(sess.ID, finishedRound)); err != nil {
		return nil, err
	}
	if err := emit(ctx, w, events.TypeRoundStarted, sess.ID, events.RoundStarted{
		ChatID: chatID, RoundNum: newRound, PhaseSeq: newSeq,
	}, events.RoundStartedKey(sess.ID, newRound)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &ResolveResult{OK: true, RoundNum: newRound}, nil
}

// TakeSnapshot appends a point-in-time capture of the session's state.
func (h *Handlers) TakeSnapshot(ctx context.Context, chatID int64, snapshot json.RawMessage) (*store.Snapshot, error) {
	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sess, err := h.store.LockCurrentSession(ctx, tx, chatID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, &errs.DomainPreconditionError{Message: "no active game in this chat"}
		}
		return nil, err
	}

	if len(snapshot) == 0 {
		snapshot = json.RawMessage("{}")
	}
	snap := store.Snapshot{GameID: sess.ID, ChatID: chatID, RoundNum: sess.RoundNum, PhaseSeq: sess.PhaseSeq, Data: snapshot}
	if err := h.store.InsertSnapshot(ctx, tx, snap); err != nil {
		return nil, err
	}

	if err := h.store.InsertAudit(ctx, tx, store.AuditEntry{
		GameID:     sess.ID,
		ChatID:     chatID,
		ActionType: "snapshot.created",
		PhaseSeq:   &sess.PhaseSeq,
		RoundNum:   &sess.RoundNum,
		Payload:    auditPayload(map[string]any{"phase_seq": sess.PhaseSeq, "round_num": sess.RoundNum}),
	}); err != nil {
		return nil, err
	}

	w := outbox.New(tx)
	if err := emit(ctx, w, events.TypeSnapshotCreated, sess.ID, events.SnapshotCreated{
		ChatID: chatID, PhaseSeq: sess.PhaseSeq, RoundNum: sess.RoundNum,
	}, events.SnapshotCreatedKey(sess.ID, sess.PhaseSeq, sess.RoundNum)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &snap, nil
}

// FinishGame transitions the session to its terminal finished status.
func (h *Handlers) FinishGame(ctx context.Context, chatID int64) error {
	return h.terminal(ctx, chatID, "finished", events.TypeGameFinished, func(sess *store.Session) (any, string) {
		return events.GameFinished{ChatID: chatID}, events.GameFinishedKey(sess.ID)
	})
}

// ArchiveGame transitions the session to its terminal archived status.
func (h *Handlers) ArchiveGame(ctx context.Context, chatID int64) error {
	return h.terminal(ctx, chatID, "archived", events.TypeGameArchived, func(sess *store.Session) (any, string) {
		return events.GameArchived{ChatID: chatID}, events.GameArchivedKey(sess.ID)
	})
}

func (h *Handlers) terminal(ctx context.Context, chatID int64, status, eventType string, build func(*store.Session) (any, string)) error {
	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sess, err := h.store.LockCurrentSession(ctx, tx, chatID)
	if err != nil {
		if err == store.ErrNotFound {
			return &errs.DomainPreconditionError{Message: "no active game in this chat"}
		}
		return err
	}

	if err := h.store.SetStatus(ctx, tx, sess.ID, status); err != nil {
		return err
	}
	if err := h.store.InsertAudit(ctx, tx, store.AuditEntry{
		GameID:     sess.ID,
		ChatID:     chatID,
		ActionType: "game." + status,
		Payload:    auditPayload(map[string]any{"status": status}),
	}); err != nil {
		return err
	}

	payload, key := build(sess)
	w := outbox.New(tx)
	if err := emit(ctx, w, eventType, sess.ID, payload, key); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

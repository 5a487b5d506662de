//go:build integration

package command

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/truebigbossboroda-stack/check-demo-bot/internal/store"
	"github.com/truebigbossboroda-stack/check-demo-bot/internal/testutil"
)

// TestHappyPhaseAdvance mirrors scenario S1: a full round of active players
// readies up and the phase advances exactly one step, with ready marks
// cleared afterward.
func TestHappyPhaseAdvance(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := testutil.SetupPostgres(t, ctx)
	defer cleanup()

	st := store.New(pool)
	h := New(st)

	chatID := int64(42)
	sess, err := h.CreateGame(ctx, chatID, 1001, 300)
	require.NoError(t, err)
	require.Equal(t, "lobby", sess.CurrentPhase)

	p1, err := h.JoinGame(ctx, chatID, 1001, "", "US", "United States")
	require.NoError(t, err)

	adv, err := h.AdvancePhase(ctx, chatID)
	require.NoError(t, err)
	require.False(t, adv.OK, "cannot advance before anyone is ready")

	ready, err := h.SetReady(ctx, chatID, 1001)
	require.NoError(t, err)
	require.True(t, ready.OK)
	require.Equal(t, 1, ready.ReadyCount)
	require.Equal(t, 1, ready.ActiveCount)

	adv, err = h.AdvancePhase(ctx, chatID)
	require.NoError(t, err)
	require.True(t, adv.OK)
	require.Equal(t, "income", adv.NewPhase)

	// Ready marks are cleared on phase change: readying again should start
	// from zero at the new phase_seq.
	ready, err = h.SetReady(ctx, chatID, 1001)
	require.NoError(t, err)
	require.True(t, ready.OK)
	require.Equal(t, 1, ready.ReadyCount)

	_ = p1
}

// TestReadyThreshold mirrors scenario S2: phase only advances once every
// active player has readied for the current phase_seq.
func TestReadyThreshold(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := testutil.SetupPostgres(t, ctx)
	defer cleanup()

	st := store.New(pool)
	h := New(st)

	chatID := int64(43)
	_, err := h.CreateGame(ctx, chatID, 2001, 300)
	require.NoError(t, err)

	for i, tg := range []int64{2001, 2002, 2003} {
		_, err := h.JoinGame(ctx, chatID, tg, "", uuid.NewString()[:2], "Country")
		require.NoErrorf(t, err, "join player %d", i)
	}

	// First advance (lobby -> income) requires all three ready.
	r1, err := h.SetReady(ctx, chatID, 2001)
	require.NoError(t, err)
	require.Equal(t, 1, r1.ReadyCount)
	require.Equal(t, 3, r1.ActiveCount)

	r2, err := h.SetReady(ctx, chatID, 2002)
	require.NoError(t, err)
	require.Equal(t, 2, r2.ReadyCount)

	adv, err := h.AdvancePhase(ctx, chatID)
	require.NoError(t, err)
	require.False(t, adv.OK, "not everyone ready yet")

	r3, err := h.SetReady(ctx, chatID, 2003)
	require.NoError(t, err)
	require.Equal(t, 3, r3.ReadyCount)

	adv, err = h.AdvancePhase(ctx, chatID)
	require.NoError(t, err)
	require.True(t, adv.OK)
	require.Equal(t, "income", adv.NewPhase)
}

// TestSingleActiveSessionPerChat exercises the at-most-one-lobby-or-active
// invariant: creating a new session for a chat that already has one
// archives the old one first.
func TestSingleActiveSessionPerChat(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := testutil.SetupPostgres(t, ctx)
	defer cleanup()

	st := store.New(pool)
	h := New(st)

	chatID := int64(44)
	first, err := h.CreateGame(ctx, chatID, 3001, 300)
	require.NoError(t, err)

	second, err := h.CreateGame(ctx, chatID, 3002, 300)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	current, err := st.LockCurrentSession(ctx, tx, chatID)
	require.NoError(t, err)
	require.Equal(t, second.ID, current.ID)
}

// advanceToResolve walks a single-player session from lobby through every
// in-round phase up to and including resolve, readying the lone player
// before each AdvancePhase call since ready marks are cleared on every
// phase change.
func advanceToResolve(t *testing.T, ctx context.Context, h *Handlers, chatID, tgUserID int64) {
	t.Helper()
	for {
		ready, err := h.SetReady(ctx, chatID, tgUserID)
		require.NoError(t, err)
		require.True(t, ready.OK)

		adv, err := h.AdvancePhase(ctx, chatID)
		require.NoError(t, err)
		require.True(t, adv.OK)
		if adv.NewPhase == "resolve" {
			return
		}
	}
}

// TestResolveRound exercises the resolve -> income round boundary, and
// specifically that the audit row ResolveRound appends satisfies the
// game_audit_log.payload NOT NULL constraint.
func TestResolveRound(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := testutil.SetupPostgres(t, ctx)
	defer cleanup()

	st := store.New(pool)
	h := New(st)

	chatID := int64(45)
	_, err := h.CreateGame(ctx, chatID, 4001, 300)
	require.NoError(t, err)
	_, err = h.JoinGame(ctx, chatID, 4001, "", "FR", "France")
	require.NoError(t, err)

	advanceToResolve(t, ctx, h, chatID, 4001)

	// Not ready yet for the resolve phase itself: ResolveRound must refuse.
	res, err := h.ResolveRound(ctx, chatID)
	require.NoError(t, err)
	require.False(t, res.OK)

	ready, err := h.SetReady(ctx, chatID, 4001)
	require.NoError(t, err)
	require.True(t, ready.OK)

	res, err = h.ResolveRound(ctx, chatID)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, 2, res.RoundNum)

	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	current, err := st.LockCurrentSession(ctx, tx, chatID)
	require.NoError(t, err)
	require.Equal(t, "income", current.CurrentPhase)
	require.Equal(t, 2, current.RoundNum)
}

// TestFinishGameAndArchiveGame confirms both terminal transitions commit
// successfully, exercising the game_audit_log insert's NOT NULL payload
// column on each path.
func TestFinishGameAndArchiveGame(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := testutil.SetupPostgres(t, ctx)
	defer cleanup()

	st := store.New(pool)
	h := New(st)

	finishChatID := int64(46)
	finishSess, err := h.CreateGame(ctx, finishChatID, 5001, 300)
	require.NoError(t, err)
	require.NoError(t, h.FinishGame(ctx, finishChatID))

	var finishStatus string
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM game_sessions WHERE id = $1`, finishSess.ID).Scan(&finishStatus))
	require.Equal(t, "finished", finishStatus)

	archiveChatID := int64(47)
	archiveSess, err := h.CreateGame(ctx, archiveChatID, 6001, 300)
	require.NoError(t, err)
	require.NoError(t, h.ArchiveGame(ctx, archiveChatID))

	var archiveStatus string
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM game_sessions WHERE id = $1`, archiveSess.ID).Scan(&archiveStatus))
	require.Equal(t, "archived", archiveStatus)
}

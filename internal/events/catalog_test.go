package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequiresIdempotencyKey(t *testing.T) {
	require.True(t, RequiresIdempotencyKey(TypeGameCreated))
	require.True(t, RequiresIdempotencyKey(TypePlayerJoined))
	require.True(t, RequiresIdempotencyKey(TypePhaseChanged))
	require.True(t, RequiresIdempotencyKey(TypeRoundStarted))
	require.True(t, RequiresIdempotencyKey(TypeRoundResolved))
	require.True(t, RequiresIdempotencyKey(TypeSnapshotCreated))
	require.True(t, RequiresIdempotencyKey(TypeGameFinished))
	require.True(t, RequiresIdempotencyKey(TypeGameArchived))

	require.False(t, RequiresIdempotencyKey(TypePlayerReadySet))
	require.False(t, RequiresIdempotencyKey(""))

	require.True(t, RequiresIdempotencyKey("admin.rebuild_read_model"))
	require.False(t, RequiresIdempotencyKey("admi"))
}

func TestKeyTemplatesAreStableAndDistinctByInput(t *testing.T) {
	a := GameCreatedKey("sess-1")
	b := GameCreatedKey("sess-1")
	c := GameCreatedKey("sess-2")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Equal(t, "game.created:sess-1", a)

	require.Equal(t, "player.joined:sess-1:42", PlayerJoinedKey("sess-1", 42))
	require.NotEqual(t, PlayerJoinedKey("sess-1", 42), PlayerJoinedKey("sess-1", 43))

	require.Equal(t, "phase.changed:sess-1:3", PhaseChangedKey("sess-1", 3))
	require.NotEqual(t, PhaseChangedKey("sess-1", 3), PhaseChangedKey("sess-1", 4))

	require.Equal(t, "round.started:sess-1:2", RoundStartedKey("sess-1", 2))
	require.Equal(t, "round.resolved:sess-1:2", RoundResolvedKey("sess-1", 2))

	require.Equal(t, "player.ready_set:sess-1:play-1:3", PlayerReadySetKey("sess-1", "play-1", 3))
	require.NotEqual(t,
		PlayerReadySetKey("sess-1", "play-1", 3),
		PlayerReadySetKey("sess-1", "play-2", 3))

	require.Equal(t, "admin.snapshot:sess-1:3:2", SnapshotCreatedKey("sess-1", 3, 2))
	require.Equal(t, "game.finished:sess-1", GameFinishedKey("sess-1"))
	require.Equal(t, "admin.archive:sess-1", GameArchivedKey("sess-1"))
}

func TestMaterializeTypesCoversEveryPersistedEvent(t *testing.T) {
	for _, typ := range []string{
		TypeGameCreated, TypePlayerJoined, TypePhaseChanged,
		TypeRoundStarted, TypeRoundResolved, TypeGameFinished,
		TypeGameArchived, TypeSnapshotCreated,
	} {
		require.Truef(t, MaterializeTypes[typ], "expected %s to be materialized", typ)
	}

	// player.ready_set affects only ready-mark bookkeeping, already reflected
	// via the phase.changed/round.started events that follow it.
	require.False(t, MaterializeTypes[TypePlayerReadySet])
}

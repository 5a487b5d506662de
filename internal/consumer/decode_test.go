package consumer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	kafka "github.com/segmentio/kafka-go"
)

func TestDecodeSkipsTombstone(t *testing.T) {
	_, ok, reason := decode(kafka.Message{Value: nil})
	require.False(t, ok)
	require.Equal(t, "tombstone", reason)
}

func TestDecodeSkipsInvalidJSON(t *testing.T) {
	_, ok, reason := decode(kafka.Message{Value: []byte("not json")})
	require.False(t, ok)
	require.Equal(t, "invalid_json", reason)
}

func TestDecodeSkipsNonMaterializedType(t *testing.T) {
	_, ok, reason := decode(kafka.Message{Value: []byte(`{"event_id":"e1","type":"player.ready_set","aggregate":{"type":"game_session","id":"a1"}}`)})
	require.False(t, ok)
	require.Equal(t, "not_materialized", reason)
}

func TestDecodeSkipsMissingFields(t *testing.T) {
	_, ok, reason := decode(kafka.Message{Value: []byte(`{"type":"game.created","aggregate":{"type":"game_session","id":""}}`)})
	require.False(t, ok)
	require.Equal(t, "missing_fields", reason)
}

func TestDecodeAcceptsValidEnvelope(t *testing.T) {
	env, ok, _ := decode(kafka.Message{Value: []byte(`{"event_id":"e1","type":"game.created","aggregate":{"type":"game_session","id":"a1"}}`)})
	require.True(t, ok)
	require.Equal(t, "e1", env.EventID)
	require.Equal(t, "a1", env.Aggregate.ID)
}

func TestRetryBackoffCaps(t *testing.T) {
	base := retryBackoff(500*time.Millisecond, 2*time.Second, 1)
	require.Equal(t, 500*time.Millisecond, base)

	capped := retryBackoff(500*time.Millisecond, 2*time.Second, 10)
	require.Equal(t, 2*time.Second, capped)
}

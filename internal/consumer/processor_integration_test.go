//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	kafka "github.com/segmentio/kafka-go"

	"github.com/truebigbossboroda-stack/check-demo-bot/internal/events"
	"github.com/truebigbossboroda-stack/check-demo-bot/internal/store"
	"github.com/truebigbossboroda-stack/check-demo-bot/internal/testutil"
)

type stubDLQ struct {
	mu    sync.Mutex
	fail  bool
	sent  []kafka.Message
	topic string
}

func (d *stubDLQ) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.New("dlq unavailable")
	}
	d.topic = topic
	d.sent = append(d.sent, msgs...)
	return nil
}

func insertSessionRow(t *testing.T, ctx context.Context, st *store.Store, chatID int64) string {
	t.Helper()
	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	sess, err := st.InsertSession(ctx, tx, chatID, nil, 300, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return sess.ID
}

func TestProcessorMaterializesAndDedupes(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := testutil.SetupPostgres(t, ctx)
	defer cleanup()

	st := store.New(pool)
	chatID := int64(77)
	sessionID := insertSessionRow(t, ctx, st, chatID)

	env := events.Envelope{
		SchemaVersion: 1,
		EventID:       uuid.NewString(),
		Type:          events.TypeGameCreated,
		Aggregate:     events.AggregateRef{Type: "game_session", ID: sessionID},
		Payload:       json.RawMessage(`{}`),
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	reader := &fakeReader{msgs: []kafka.Message{{Topic: "game-events", Value: raw}}}
	dlq := &stubDLQ{}
	proc := NewProcessor(reader, st, dlq, Config{DLQTopic: "game-events.dlq", MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond})

	msg := reader.msgs[0]
	decoded, ok, _ := decode(msg)
	require.True(t, ok)

	dedup, err := proc.materialize(ctx, msg, decoded)
	require.NoError(t, err)
	require.False(t, dedup)

	var rowCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM game_read_model WHERE chat_id = $1`, chatID).Scan(&rowCount))
	require.Equal(t, 1, rowCount)

	// Re-processing the same event_id is a dedup no-op.
	dedup, err = proc.materialize(ctx, msg, decoded)
	require.NoError(t, err)
	require.True(t, dedup)
}

func TestProcessorRoutesPoisonMessageToDLQButStillCommits(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := testutil.SetupPostgres(t, ctx)
	defer cleanup()

	st := store.New(pool)

	reader := &fakeReader{}
	dlq := &stubDLQ{}
	proc := NewProcessor(reader, st, dlq, Config{DLQTopic: "game-events.dlq", MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})

	// No game_sessions row exists for this aggregate id, so recompute is a
	// no-op rather than a failure: exercise sendToDLQ/markConsumedAsDLQ
	// directly instead of routing a handler error through process().
	eventID := uuid.NewString()
	aggID := uuid.NewString()
	poison := kafka.Message{Topic: "game-events", Value: []byte(
		`{"event_id":"` + eventID + `","type":"game.created","aggregate":{"type":"game_session","id":"` + aggID + `"}}`,
	)}
	decoded, ok, _ := decode(poison)
	require.True(t, ok)

	// materialize succeeds even for a missing aggregate (recompute deletes
	// nothing and returns nil), so exercise sendToDLQ directly to confirm
	// the envelope carries src + dlq metadata.
	proc.sendToDLQ(ctx, poison, decoded, errors.New("synthetic failure"), 1)
	require.Len(t, dlq.sent, 1)
	require.Equal(t, "game-events.dlq", dlq.topic)

	var sent events.Envelope
	require.NoError(t, json.Unmarshal(dlq.sent[0].Value, &sent))
	require.NotNil(t, sent.DLQ)
	require.NotNil(t, sent.Source)
	require.Equal(t, "game-events", sent.Source.Topic)

	require.NoError(t, proc.markConsumedAsDLQ(ctx, poison, decoded))
	var eventType string
	require.NoError(t, pool.QueryRow(ctx, `SELECT event_type FROM consumed_events WHERE event_id = $1`, decoded.EventID).Scan(&eventType))
	require.Equal(t, "DLQ:game.created", eventType)
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	idx       int
	committed []kafka.Message
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.msgs) {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[f.idx]
	f.idx++
	return m, nil
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error { return nil }

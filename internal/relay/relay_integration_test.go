//go:build integration

package relay

import (
	"context"
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

type stubProducer struct {
	mu      sync.Mutex
	failFor string
	writes  []stubWrite
}

type stubWrite struct {
	topic string
	msgs  []kafka.Message
}

func (s *stubProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor != "" && topic == s.failFor {
		return errors.New("simulated broker failure")
	}
	s.writes = append(s.writes, stubWrite{topic: topic, msgs: msgs})
	return nil
}

func seedOutboxRow(t *testing.T, ctx context.Context, st *store.Store, eventType string, idemKey *string) string {
	t.Helper()
	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	aggID := uuid.NewString()
	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO outbox_events (event_type, aggregate_type, aggregate_id, payload, idempotency_key)
		VALUES ($1, 'game_session', $2, '{}'::jsonb, $3)
		RETURNING id`, eventType, aggID, idemKey).Scan(&id)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return id
}

func TestRelayPublishesAndMarksSent(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := testutil.SetupPostgres(t, ctx)
	defer cleanup()

	st := store.New(pool)
	key := "game.created:" + uuid.NewString()
	seedOutboxRow(t, ctx, st, events.TypeGameCreated, &key)

	producer := &stubProducer{}
	r := New(st, producer, Config{
		Topic: "game-events", DLQTopic: "game-events.dlq",
		BatchSize: 10, MaxAttempts: 5,
		LockTTL: 30 * time.Second, PublishTO: 5 * time.Second, IdleSleep: 10 * time.Millisecond,
	})

	require.NoError(t, r.tick(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, "game-events", producer.writes[0].topic)

	var status string
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM outbox_events WHERE idempotency_key = $1`, key).Scan(&status))
	require.Equal(t, "sent", status)
}

func TestRelayDeadLettersWhenMaxAttemptsReached(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := testutil.SetupPostgres(t, ctx)
	defer cleanup()

	st := store.New(pool)
	key := "game.created:" + uuid.NewString()
	seedOutboxRow(t, ctx, st, events.TypeGameCreated, &key)

	producer := &stubProducer{failFor: "game-events"}
	r := New(st, producer, Config{
		Topic: "game-events", DLQTopic: "game-events.dlq",
		BatchSize: 10, MaxAttempts: 1,
		LockTTL: 30 * time.Second, PublishTO: 5 * time.Second, IdleSleep: 10 * time.Millisecond,
	})

	require.NoError(t, r.tick(ctx))

	var status string
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM outbox_events WHERE idempotency_key = $1`, key).Scan(&status))
	require.Equal(t, "dead", status)

	require.Len(t, producer.writes, 1)
	require.Equal(t, "game-events.dlq", producer.writes[0].topic)
}

func TestRelayReclaimsExpiredLeases(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := testutil.SetupPostgres(t, ctx)
	defer cleanup()

	st := store.New(pool)
	key := "game.created:" + uuid.NewString()
	id := seedOutboxRow(t, ctx, st, events.TypeGameCreated, &key)

	_, err := pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'processing', locked_until = now() - interval '1 minute', lock_owner = 'stale-owner'
		WHERE id = $1`, id)
	require.NoError(t, err)

	reclaimed, err := st.ReclaimExpiredLeases(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), reclaimed)

	var status string
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM outbox_events WHERE id = $1`, id).Scan(&status))
	require.Equal(t, "new", status)
}

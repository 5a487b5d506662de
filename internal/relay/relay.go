// Package relay implements the lease-based dispatcher that drains the
// outbox table and publishes events to Kafka, with bounded retries,
// exponential backoff, and dead-letter escalation. It is a direct Go port
// of outbox_publisher.py's reserve/publish/finalize loop.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/truebigbossboroda-stack/check-demo-bot/internal/events"
	"github.com/truebigbossboroda-stack/check-demo-bot/internal/observability"
	"github.com/truebigbossboroda-stack/check-demo-bot/internal/store"
)

// messageWriter is the subset of *kafka.Writer the relay needs, so tests can
// supply a stub instead of a live broker connection.
type messageWriter interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// backoffBase and backoffCap implement backoff(attempt) = min(base^min(attempt,6), cap),
// attempt 1-based, matching outbox_publisher.py's backoff_seconds exactly.
const (
	backoffBase = 2
	backoffCap  = 60 * time.Second
)

func backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	capped := attempt
	if capped > 6 {
		capped = 6
	}
	delay := 1
	for i := 0; i < capped; i++ {
		delay *= backoffBase
	}
	d := time.Duration(delay) * time.Second
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// Relay owns the reserve/publish/finalize loop for one process instance.
type Relay struct {
	store       *store.Store
	producer    messageWriter
	owner       string
	topic       string
	dlqTopic    string
	batchSize   int
	maxAttempts int
	lockTTL     time.Duration
	publishTO   time.Duration
	idleSleep   time.Duration

	done chan struct{}
}

// Config bundles the tunables a relay instance is constructed with.
type Config struct {
	Topic       string
	DLQTopic    string
	BatchSize   int
	MaxAttempts int
	LockTTL     time.Duration
	PublishTO   time.Duration
	IdleSleep   time.Duration
}

// New constructs a Relay. owner identifies this instance in lock_owner,
// matching the reference implementation's "<hostname>:<pid>" convention.
func New(st *store.Store, producer messageWriter, cfg Config) *Relay {
	hostname, _ := os.Hostname()
	owner := fmt.Sprintf("%s:%d", hostname, os.Getpid())
	return &Relay{
		store:       st,
		producer:    producer,
		owner:       owner,
		topic:       cfg.Topic,
		dlqTopic:    cfg.DLQTopic,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		lockTTL:     cfg.LockTTL,
		publishTO:   cfg.PublishTO,
		idleSleep:   cfg.IdleSleep,
		done:        make(chan struct{}),
	}
}

// Owner reports this instance's lock_owner identity.
func (r *Relay) Owner() string { return r.owner }

// Run drives the loop until ctx is cancelled. It is meant to be called from
// main, not spawned: callers that need a goroutine should `go r.Run(ctx)`
// and use Wait to block for completion.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := r.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("relay: tick error: %v", err)
		}
	}
}

// Wait blocks until Run has returned.
func (r *Relay) Wait() { <-r.done }

func (r *Relay) tick(ctx context.Context) error {
	reclaimed, err := r.store.ReclaimExpiredLeases(ctx)
	if err != nil {
		return fmt.Errorf("reclaim: %w", err)
	}
	if reclaimed > 0 {
		reclaimedGauge.Add(float64(reclaimed))
		log.Printf("relay: reclaimed=%d", reclaimed)
	}

	start := time.Now()
	batch, err := r.store.ReserveBatch(ctx, r.batchSize, r.lockTTL, r.owner)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	if len(batch) == 0 {
		select {
		case <-ctx.Done():
		case <-time.After(r.idleSleep):
		}
		return nil
	}
	defer batchDuration.Observe(time.Since(start).Seconds())

	oldest := batch[0].CreatedAt
	for _, row := range batch {
		if row.CreatedAt.Before(oldest) {
			oldest = row.CreatedAt
		}
	}
	observability.RecordOutboxOldestPendingAge(time.Since(oldest))

	for _, row := range batch {
		r.publishOne(ctx, row)
	}
	return nil
}

func (r *Relay) publishOne(ctx context.Context, row store.OutboxRow) {
	attemptNext := row.PublishAttempts + 1
	env := envelopeFor(row)

	if !env.Valid() {
		err := fmt.Sprintf("invalid envelope for outbox id=%s", row.ID)
		r.routeToDLQ(ctx, row, env, attemptNext, err)
		return
	}

	raw, err := json.Marshal(env)
	if err != nil {
		r.routeToDLQ(ctx, row, env, attemptNext, fmt.Sprintf("marshal error: %v", err))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.publishTO)
	sendErr := r.producer.WriteMessages(pubCtx, r.topic, kafka.Message{
		Key:   []byte(row.AggregateID),
		Value: raw,
	})
	cancel()

	if sendErr == nil {
		ok, err := r.store.MarkSent(ctx, row.ID, r.owner)
		if err != nil {
			log.Printf("relay: mark sent failed for %s: %v", row.ID, err)
			return
		}
		if ok {
			publishedCounter.Inc()
		}
		return
	}

	errMsg := sendErr.Error()
	if attemptNext >= r.maxAttempts {
		r.routeToDLQ(ctx, row, env, attemptNext, errMsg)
		return
	}

	delay := backoff(attemptNext)
	if ok, err := r.store.MarkRetry(ctx, row.ID, r.owner, errMsg, delay); err != nil {
		log.Printf("relay: mark retry failed for %s: %v", row.ID, err)
	} else if ok {
		retriedCounter.Inc()
	}
}

// routeToDLQ attempts delivery to the DLQ topic. On DLQ success the row is
// marked dead (terminal). On DLQ failure the row goes back to new with a
// fresh backoff: it must never be silently left dead just because the DLQ
// publish itself failed.
func (r *Relay) routeToDLQ(ctx context.Context, row store.OutboxRow, env events.Envelope, attempt int, origErr string) {
	env.DLQ = &events.DLQMeta{
		FailedAt: events.FormatRFC3339Z(time.Now()),
		Attempts: attempt,
		Error:    origErr,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"event_id":"%s","error":"marshal failure"}`, row.ID))
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.publishTO)
	dlqErr := r.producer.WriteMessages(pubCtx, r.dlqTopic, kafka.Message{
		Key:   []byte(row.AggregateID),
		Value: raw,
	})
	cancel()

	if dlqErr != nil {
		delay := backoff(attempt)
		combined := fmt.Sprintf("DLQ failed: %v; original: %s", dlqErr, origErr)
		if ok, err := r.store.MarkRetry(ctx, row.ID, r.owner, combined, delay); err != nil {
			log.Printf("relay: mark retry (post-DLQ-fail) failed for %s: %v", row.ID, err)
		} else if ok {
			retriedCounter.Inc()
		}
		return
	}

	dlqCounter.WithLabelValues("exhausted").Inc()
	if ok, err := r.store.MarkDead(ctx, row.ID, r.owner, "DLQ: "+origErr); err != nil {
		log.Printf("relay: mark dead failed for %s: %v", row.ID, err)
	} else if ok {
		deadCounter.Inc()
	}
}

func envelopeFor(row store.OutboxRow) events.Envelope {
	return events.Envelope{
		SchemaVersion: 1,
		EventID:       row.ID,
		Type:          row.EventType,
		Aggregate: events.AggregateRef{
			Type: row.AggregateType,
			ID:   row.AggregateID,
		},
		IdempotencyKey: row.IdempotencyKey,
		CreatedAt:      events.FormatRFC3339Z(row.CreatedAt),
		Payload:        row.Payload,
	}
}

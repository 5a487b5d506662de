// Package consumer implements the idempotent Kafka consumer that
// materializes the per-chat read model. It is a Go port of consumer.py's
// fetch/decode/materialize/commit loop, including its poison-message and
// DLQ-then-still-commit handling.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/truebigbossboroda-stack/check-demo-bot/internal/events"
	"github.com/truebigbossboroda-stack/check-demo-bot/internal/observability"
	"github.com/truebigbossboroda-stack/check-demo-bot/internal/store"
)

// Reader is the subset of *kafka.Reader the processor needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// dlqWriter publishes poison messages to the consumer-side DLQ topic.
type dlqWriter interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// Config bundles the processor's tunables.
type Config struct {
	DLQTopic    string
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Processor pulls messages off Reader, materializes them into the read
// model through Store, and commits offsets only after the materializing
// transaction commits.
type Processor struct {
	reader Reader
	store  *store.Store
	dlq    dlqWriter
	cfg    Config
	logger *log.Logger
}

// NewProcessor constructs a Processor.
func NewProcessor(reader Reader, st *store.Store, dlq dlqWriter, cfg Config) *Processor {
	return &Processor{
		reader: reader,
		store:  st,
		dlq:    dlq,
		cfg:    cfg,
		logger: log.New(log.Writer(), "[consumer] ", log.LstdFlags),
	}
}

// Run processes messages until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		env, ok, reason := decode(msg)
		if !ok {
			skippedCounter.WithLabelValues(reason).Inc()
			if err := p.reader.CommitMessages(ctx, msg); err != nil {
				p.logger.Printf("commit error after skip: %v", err)
			}
			continue
		}

		p.process(ctx, msg, env)
	}
}

func (p *Processor) process(ctx context.Context, msg kafka.Message, env events.Envelope) {
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		dedup, err := p.materialize(ctx, msg, env)
		if err == nil {
			if dedup {
				dedupCounter.WithLabelValues(env.Type).Inc()
			} else {
				processedCounter.WithLabelValues(env.Type).Inc()
				observability.RecordReadModelUpdated(time.Now())
			}
			if cerr := p.reader.CommitMessages(ctx, msg); cerr != nil {
				p.logger.Printf("commit error: %v", cerr)
			}
			return
		}

		handlerErrorCounter.WithLabelValues(env.Type).Inc()
		if attempt < p.cfg.MaxAttempts {
			p.logger.Printf("materialize error (attempt %d/%d) for event_id=%s: %v", attempt, p.cfg.MaxAttempts, env.EventID, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff(p.cfg.BaseBackoff, p.cfg.MaxBackoff, attempt)):
			}
			continue
		}

		// Poison after exhausting retries: publish to the DLQ, then still
		// mark consumed and commit. The alternative is an infinite replay
		// loop on one message, which is worse than losing materialization.
		p.sendToDLQ(ctx, msg, env, err, attempt)
		if derr := p.markConsumedAsDLQ(ctx, msg, env); derr != nil {
			p.logger.Printf("mark-consumed-as-dlq error for event_id=%s: %v", env.EventID, derr)
		}
		dlqCounter.WithLabelValues(env.Type).Inc()
		if cerr := p.reader.CommitMessages(ctx, msg); cerr != nil {
			p.logger.Printf("commit error after dlq: %v", cerr)
		}
		return
	}
}

// materialize runs the dedup-check + recompute + mark-consumed sequence in
// one transaction. dedup reports whether the event_id was already recorded
// (in which case nothing else happens) so process can count it separately from
// a fresh materialization.
func (p *Processor) materialize(ctx context.Context, msg kafka.Message, env events.Envelope) (dedup bool, err error) {
	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	already, err := p.store.AlreadyConsumed(ctx, tx, env.EventID)
	if err != nil {
		return false, err
	}
	if already {
		return true, tx.Commit(ctx)
	}

	if err := p.store.RecomputeReadModel(ctx, tx, env.Aggregate.ID); err != nil {
		return false, err
	}
	if err := p.store.MarkConsumed(ctx, tx, env.EventID, msg.Topic, msg.Partition, int64(msg.Offset), env.Aggregate.Type, env.Aggregate.ID, env.Type); err != nil {
		return false, err
	}
	return false, tx.Commit(ctx)
}

func (p *Processor) markConsumedAsDLQ(ctx context.Context, msg kafka.Message, env events.Envelope) error {
	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	already, err := p.store.AlreadyConsumed(ctx, tx, env.EventID)
	if err != nil {
		return err
	}
	if already {
		return tx.Commit(ctx)
	}
	if err := p.store.MarkConsumed(ctx, tx, env.EventID, msg.Topic, msg.Partition, int64(msg.Offset), env.Aggregate.Type, env.Aggregate.ID, "DLQ:"+env.Type); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Processor) sendToDLQ(ctx context.Context, msg kafka.Message, env events.Envelope, cause error, attempt int) {
	var keyPtr *string
	if len(msg.Key) > 0 {
		k := string(msg.Key)
		keyPtr = &k
	}
	env.Reason = "handler_exhausted_retries"
	env.DLQ = &events.DLQMeta{
		FailedAt: events.FormatRFC3339Z(time.Now()),
		Attempts: attempt,
		Error:    cause.Error(),
	}
	env.Source = &events.SourceRef{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    int64(msg.Offset),
		Key:       keyPtr,
	}

	raw, merr := json.Marshal(env)
	if merr != nil {
		raw = []byte(fmt.Sprintf(`{"event_id":"%s","error":"marshal failure"}`, env.EventID))
	}
	if err := p.dlq.WriteMessages(ctx, p.cfg.DLQTopic, kafka.Message{Key: msg.Key, Value: raw}); err != nil {
		p.logger.Printf("dlq publish failed for event_id=%s: %v", env.EventID, err)
	}
}

// decode permissively parses msg into an Envelope. It returns ok=false for
// a tombstone, invalid JSON, an event type the read model does not
// materialize, or a missing event_id/aggregate.id — all of which are
// skipped and committed without ever reaching the retry/DLQ path.
func decode(msg kafka.Message) (events.Envelope, bool, string) {
	if len(msg.Value) == 0 {
		return events.Envelope{}, false, "tombstone"
	}
	var env events.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return events.Envelope{}, false, "invalid_json"
	}
	if !events.MaterializeTypes[env.Type] {
		return events.Envelope{}, false, "not_materialized"
	}
	if env.EventID == "" || env.Aggregate.ID == "" {
		return events.Envelope{}, false, "missing_fields"
	}
	return env, true, ""
}

// retryBackoff implements BASE_BACKOFF_SEC * 2^(attempt-1), capped, matching
// consumer.py's in-process retry delay.
func retryBackoff(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

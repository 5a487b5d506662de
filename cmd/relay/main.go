// Command relay drains the outbox table and publishes events to Kafka.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/truebigbossboroda-stack/check-demo-bot/internal/config"
	"github.com/truebigbossboroda-stack/check-demo-bot/internal/relay"
	"github.com/truebigbossboroda-stack/check-demo-bot/internal/store"
)

func main() {
	cfg := config.Load()

	check := false
	for _, arg := range os.Args[1:] {
		if arg == "--check" {
			check = true
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	st := store.New(pool)

	if check {
		os.Exit(runCheck(ctx, st, cfg))
	}

	producer := relay.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	r := relay.New(st, producer, relay.Config{
		Topic:       cfg.Topic,
		DLQTopic:    cfg.DLQTopic,
		BatchSize:   cfg.OutboxBatchSize,
		MaxAttempts: cfg.OutboxMaxAttempts,
		LockTTL:     cfg.OutboxLockTTL,
		PublishTO:   cfg.PublishTimeout,
		IdleSleep:   cfg.IdleSleep,
	})

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Printf("relay metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("relay owner=%s brokers=%v topic=%s dlq=%s batch=%d max_attempts=%d",
		r.Owner(), cfg.KafkaBrokers, cfg.Topic, cfg.DLQTopic, cfg.OutboxBatchSize, cfg.OutboxMaxAttempts)

	go r.Run(ctx)

	<-stop
	log.Println("relay shutdown requested")
	cancel()
	r.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}

func runCheck(ctx context.Context, st *store.Store, cfg config.Config) int {
	dbOK := true
	if err := st.Pool().Ping(ctx); err != nil {
		dbOK = false
	}

	kafkaOK := tcpPing(cfg.KafkaBrokers)

	pending, err := st.CountPendingOutbox(ctx)
	if err != nil {
		pending = -1
	}

	out, _ := json.Marshal(map[string]any{
		"ok":             dbOK && kafkaOK,
		"db":             okOrFail(dbOK),
		"kafka":          okOrFail(kafkaOK),
		"kafka_brokers":  cfg.KafkaBrokers,
		"topic":          cfg.Topic,
		"dlq_topic":      cfg.DLQTopic,
		"outbox_pending": pending,
		"time_utc":       time.Now().UTC().Format(time.RFC3339),
	})
	fmt.Println(string(out))

	if !dbOK || !kafkaOK {
		return 2
	}
	return 0
}

func tcpPing(brokers []string) bool {
	if len(brokers) == 0 {
		return false
	}
	conn, err := net.DialTimeout("tcp", brokers[0], time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func okOrFail(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}

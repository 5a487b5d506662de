// Command consumer materializes the per-chat read model from the
// game-events topic.
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
	kafka "github.com/segmentio/kafka-go"

	"github.com/truebigbossboroda-stack/check-demo-bot/internal/config"
	"github.com/truebigbossboroda-stack/check-demo-bot/internal/consumer"
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

	dlq := relay.NewKafkaProducer(cfg.KafkaBrokers)
	defer dlq.Close()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		GroupID:        cfg.ConsumerGroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	defer reader.Close()

	proc := consumer.NewProcessor(reader, st, dlq, consumer.Config{
		DLQTopic:    cfg.DLQTopic,
		MaxAttempts: cfg.ConsumerMaxAttempts,
		BaseBackoff: cfg.ConsumerBaseBackoff,
		MaxBackoff:  cfg.ConsumerMaxBackoff,
	})

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Printf("consumer metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Printf("consumer started topic=%s group=%s", cfg.Topic, cfg.ConsumerGroupID)
		if err := proc.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("consumer stopped with error: %v", err)
		}
	}()

	<-stop
	log.Println("consumer shutdown requested")
	cancel()
	<-done

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

	var lag int64 = -1
	if dbOK && kafkaOK {
		if l, err := computeConsumerLag(ctx, st, cfg.KafkaBrokers, cfg.Topic); err == nil {
			lag = l
		}
	}

	out, _ := json.Marshal(map[string]any{
		"ok":             dbOK && kafkaOK,
		"db":             okOrFail(dbOK),
		"kafka":          okOrFail(kafkaOK),
		"kafka_brokers":  cfg.KafkaBrokers,
		"topic":          cfg.Topic,
		"consumer_group": cfg.ConsumerGroupID,
		"consumer_lag":   lag,
		"time_utc":       time.Now().UTC().Format(time.RFC3339),
	})
	fmt.Println(string(out))

	if !dbOK || !kafkaOK {
		return 2
	}
	return 0
}

// computeConsumerLag sums, across every partition of topic, the gap between
// Kafka's high watermark and the highest offset this group has recorded as
// consumed. A partition with no consumed_events row yet counts its entire
// high watermark as lag.
func computeConsumerLag(ctx context.Context, st *store.Store, brokers []string, topic string) (int64, error) {
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(topic)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, p := range partitions {
		pconn, err := kafka.DialLeader(ctx, "tcp", brokers[0], topic, p.ID)
		if err != nil {
			return 0, err
		}
		highWatermark, err := pconn.ReadLastOffset()
		pconn.Close()
		if err != nil {
			return 0, err
		}

		consumed, err := st.MaxConsumedOffset(ctx, topic, p.ID)
		if err != nil {
			return 0, err
		}

		partitionLag := highWatermark - (consumed + 1)
		if partitionLag > 0 {
			total += partitionLag
		}
	}
	return total, nil
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

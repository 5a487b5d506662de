// Command admin is a minimal read-only CLI over internal/adminquery. It
// exists to exercise that package end to end without building the HTTP/auth
// surface those queries would sit behind in a full deployment.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/truebigbossboroda-stack/check-demo-bot/internal/adminquery"
	"github.com/truebigbossboroda-stack/check-demo-bot/internal/config"
)

func main() {
	cfg := config.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if os.Args[1] == "--check" {
		os.Exit(runCheck(ctx, pool))
	}

	q := adminquery.New(pool)
	if err := dispatch(ctx, q, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runCheck(ctx context.Context, pool *pgxpool.Pool) int {
	ok := pool.Ping(ctx) == nil
	out, _ := json.Marshal(map[string]any{
		"ok": ok,
		"db": okOrFail(ok),
	})
	fmt.Println(string(out))
	if !ok {
		return 2
	}
	return 0
}

func dispatch(ctx context.Context, q *adminquery.Queries, args []string) error {
	cmd := args[0]
	switch cmd {
	case "current-session":
		chatID, err := chatIDArg(args)
		if err != nil {
			return err
		}
		row, err := q.CurrentSessionByChat(ctx, chatID)
		if err != nil {
			return err
		}
		return printJSON(row)

	case "session-history":
		chatID, err := chatIDArg(args)
		if err != nil {
			return err
		}
		rows, err := q.SessionHistory(ctx, chatID, 50)
		if err != nil {
			return err
		}
		return printJSON(rows)

	case "outbox-by-aggregate":
		if len(args) < 3 {
			return fmt.Errorf("usage: admin outbox-by-aggregate <aggregate_type> <aggregate_id>")
		}
		rows, err := q.OutboxByAggregate(ctx, args[1], args[2], 200)
		if err != nil {
			return err
		}
		return printJSON(rows)

	case "outbox-unpublished":
		rows, err := q.UnpublishedOutbox(ctx, 200)
		if err != nil {
			return err
		}
		return printJSON(rows)

	case "ready-summary":
		chatID, err := chatIDArg(args)
		if err != nil {
			return err
		}
		row, err := q.ReadySummary(ctx, chatID)
		if err != nil {
			return err
		}
		return printJSON(row)

	case "recent-audit":
		chatID, err := chatIDArg(args)
		if err != nil {
			return err
		}
		rows, err := q.RecentAudit(ctx, chatID, 100)
		if err != nil {
			return err
		}
		return printJSON(rows)

	default:
		usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func chatIDArg(args []string) (int64, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("usage: admin %s <chat_id>", args[0])
	}
	return strconv.ParseInt(args[1], 10, 64)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func okOrFail(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin <command> [args]
commands:
  --check
  current-session <chat_id>
  session-history <chat_id>
  outbox-by-aggregate <aggregate_type> <aggregate_id>
  outbox-unpublished
  ready-summary <chat_id>
  recent-audit <chat_id>`)
}

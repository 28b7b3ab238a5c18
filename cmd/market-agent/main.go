// Package main is the entrypoint for the market-agent.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/morezero/market-agent/internal/config"
	"github.com/morezero/market-agent/internal/server"
	"github.com/morezero/market-agent/pkg/a2a"
	"github.com/morezero/market-agent/pkg/analysis"
	"github.com/morezero/market-agent/pkg/db"
	"github.com/morezero/market-agent/pkg/kv"
)

const usage = `Usage: market-agent [command]
       market-agent serve               Start the agent (HTTP A2A endpoint, optional NATS, scheduler).
       market-agent analyze "<text>"    Run one blocking analysis and print the task result as JSON.
       market-agent migrate up          Run database migrations for the task store.
       market-agent migrate status      Show migration status.
       market-agent clear               Truncate persisted tasks; schema is preserved.

Commands:
  serve           (default) Start the market agent.
  analyze <text>  One-shot analysis, e.g. market-agent analyze "EUR/USD outlook".
  migrate up      Run database migrations only.
  migrate status  Show current migration status.
  clear           Remove persisted tasks.

Environment: HTTP_PORT (default 8000), A2A_PATH, TASK_STORE (memory|postgres), DATABASE_URL (postgres
store, migrate, clear), MIGRATION_PATH (empty = embedded), KV_PATH, COINGECKO_API_KEY, ALPHAVANTAGE_API_KEY,
GEMINI_API_KEY or ANTHROPIC_API_KEY with LLM_MODEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("market-agent migrate: require subcommand (up, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("market-agent migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("market-agent migrate status: %v", err)
			}
		default:
			log.Fatalf("market-agent migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("market-agent clear: %v", err)
		}
		return
	case "analyze":
		text := strings.TrimSpace(strings.Join(args[1:], " "))
		if text == "" {
			log.Fatalf("market-agent analyze: require the text to analyze")
		}
		if err := runAnalyze(text, os.Stdout); err != nil {
			log.Fatalf("market-agent analyze: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("market-agent: %v", err)
	}
}

func runMigrateUp() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	status, err := db.MigrationStatus(ctx, pool, cfg.MigrationPath)
	if err != nil {
		return err
	}
	fmt.Println(status)
	return nil
}

func runClear() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := db.ClearTasks(ctx, pool); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	return nil
}

// runAnalyze answers one question with an in-memory store so it never
// contends with a running server for the Badger directory.
func runAnalyze(text string, out io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	server.SetupLogging(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.BackgroundTimeout)
	defer cancel()

	store := kv.NewMemoryStore()
	defer store.Close()
	agent, notifier := server.BuildAgent(ctx, cfg, store, nil)
	defer notifier.Wait()

	result, err := agent.Analyze(ctx, &analysis.Request{
		Method:    a2a.MethodMessageSend,
		Messages:  []a2a.Message{a2a.NewUserMessage(text)},
		ContextID: fmt.Sprintf("cli-%d", time.Now().Unix()),
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

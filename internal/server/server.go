// Package server orchestrates all components: key-value store, task tracker,
// NATS transport, market agent, dispatcher, scheduler and the HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/market-agent/internal/config"
	"github.com/morezero/market-agent/pkg/a2a"
	"github.com/morezero/market-agent/pkg/analysis"
	"github.com/morezero/market-agent/pkg/commsutil"
	"github.com/morezero/market-agent/pkg/db"
	"github.com/morezero/market-agent/pkg/dispatcher"
	"github.com/morezero/market-agent/pkg/events"
	"github.com/morezero/market-agent/pkg/kv"
	"github.com/morezero/market-agent/pkg/market"
	"github.com/morezero/market-agent/pkg/narrative"
	"github.com/morezero/market-agent/pkg/notify"
	"github.com/morezero/market-agent/pkg/scheduler"
	"github.com/morezero/market-agent/pkg/session"
	"github.com/morezero/market-agent/pkg/tasks"
	"github.com/morezero/market-agent/pkg/webhook"
)

const logPrefix = "server:server"

const (
	// shutdownGrace is added to BACKGROUND_TIMEOUT when waiting for tasks on shutdown.
	shutdownGrace = 5 * time.Second
	kvGCInterval  = 10 * time.Minute
)

// dispatcherForServer is the dispatcher surface used by the transports.
type dispatcherForServer interface {
	Dispatch(ctx context.Context, body []byte, opts ...dispatcher.DispatchOption) (*a2a.Response, int)
	InFlight() int64
}

// healthCheck is one named dependency probe.
type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

// Server is the market-agent orchestrator.
type Server struct {
	cfg        *config.Config
	disp       dispatcherForServer
	checks     []healthCheck
	taskStats  func(ctx context.Context) (map[string]int, error)
	httpServer *http.Server
	startedAt  time.Time

	commsWG sync.WaitGroup
}

// SetupLogging installs the default slog handler for level.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// OpenStore opens the key-value store selected by cfg.
func OpenStore(cfg *config.Config) (kv.Store, error) {
	if cfg.KVInMemory {
		slog.Info(fmt.Sprintf("%s - Using in-memory key-value store", logPrefix))
		return kv.NewMemoryStore(), nil
	}
	store, err := kv.OpenBadger(cfg.KVPath)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to open key-value store at %s: %w", logPrefix, cfg.KVPath, err)
	}
	slog.Info(fmt.Sprintf("%s - Opened key-value store at %s", logPrefix, cfg.KVPath))
	return store, nil
}

// BuildAgent wires the market agent and its collaborators. The returned
// notifier must be drained with Wait before exit.
func BuildAgent(ctx context.Context, cfg *config.Config, store kv.Store, poster notify.Poster) (*analysis.MarketAgent, *notify.Notifier) {
	model, err := narrative.NewModel(ctx, narrative.ModelConfig{
		Model:           cfg.LLMModel,
		GeminiAPIKey:    cfg.GeminiAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
	})
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - narrative model %s unavailable, using rule-based analysis: %v", logPrefix, cfg.LLMModel, err))
		model = nil
	}
	if model == nil {
		slog.Info(fmt.Sprintf("%s - No narrative model configured; analysis is rule-based", logPrefix))
	} else {
		slog.Info(fmt.Sprintf("%s - Narrative model: %s", logPrefix, model.Name()))
	}

	notifier := notify.NewNotifier(poster, notify.Options{
		Enabled:   cfg.EnableNotifications,
		Target:    webhook.Target{URL: cfg.NotifierWebhook, Token: cfg.NotifierWebhookToken},
		Threshold: cfg.ImpactThreshold,
		Cooldown:  cfg.NotificationCooldown,
	})

	agent := analysis.NewMarketAgent(analysis.Options{
		CoinGecko:    market.NewCoinGecko(cfg.CoinGeckoAPIKey, store, market.WithBaseURL(cfg.CoinGeckoBase)),
		AlphaVantage: market.NewAlphaVantage(cfg.AlphaVantageAPIKey, store, market.WithBaseURL(cfg.AlphaVantageBase)),
		CryptoPanic:  market.NewCryptoPanic(cfg.CryptoPanicAPIKey, store, market.WithBaseURL(cfg.CryptoPanicBase)),
		NewsAPI:      market.NewNewsAPI(cfg.NewsAPIKey, store, market.WithBaseURL(cfg.NewsAPIBase)),
		Analyst:      narrative.NewAnalyst(model, cfg.LLMTimeout),
		Sessions:     session.NewStore(store, cfg.SessionTTL, cfg.SessionMaxMessages),
		Store:        store,
		Notifier:     notifier,
	})
	return agent, notifier
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	SetupLogging(cfg.LogLevel)

	slog.Info(fmt.Sprintf("%s - Starting %s %s", logPrefix, cfg.ServiceName, cfg.AgentVersion))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg, startedAt: time.Now().UTC()}

	// Step 1: Key-value store (cache, sessions, latest analyses)
	store, err := OpenStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	s.checks = append(s.checks, healthCheck{name: "kv", check: store.Ping})
	if badger, ok := store.(*kv.BadgerStore); ok {
		go runValueLogGC(ctx, badger)
	}

	// Step 2: Task tracker
	var (
		tracker tasks.Tracker
		pool    *pgxpool.Pool
	)
	switch cfg.TaskStore {
	case config.TaskStorePostgres:
		pool, err = db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		defer pool.Close()
		if cfg.RunMigrations {
			migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
			if err != nil {
				return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
				return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}
		repo := db.NewTaskRepository(pool)
		tracker = tasks.NewPostgresTracker(repo)
		s.checks = append(s.checks, healthCheck{name: "database", check: repo.Ping})
		s.taskStats = repo.CountByState
	default:
		mem := tasks.NewMemoryTracker()
		tracker = mem
		s.taskStats = func(context.Context) (map[string]int, error) {
			return map[string]int{"active": mem.Len()}, nil
		}
	}
	slog.Info(fmt.Sprintf("%s - Task store: %s", logPrefix, cfg.TaskStore))

	// Step 3: Optional COMMS (NATS) connection for task events and request/reply
	var (
		nc        *comms.Conn
		publisher events.EventPublisher = &events.NoOpPublisher{}
	)
	if cfg.COMMSEnabled {
		nc, err = commsutil.Connect(cfg.COMMSURL, cfg.ServiceName)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		defer nc.Close()
		publisher = events.NewCommsPublisher(nc, &events.CommsPublisherOpts{GlobalSubject: cfg.TaskEventSubject})
		s.checks = append(s.checks, healthCheck{name: "comms", check: func(context.Context) error {
			if !commsutil.Healthy(nc) {
				return errors.New("not connected")
			}
			return nil
		}})
	}

	// Step 4: Market agent, webhook client and dispatcher
	hook := webhook.NewClient(
		webhook.WithTimeout(cfg.WebhookTimeout),
		webhook.WithUserAgent(fmt.Sprintf("%s/%s", cfg.ServiceName, cfg.AgentVersion)),
	)
	agent, notifier := BuildAgent(ctx, cfg, store, hook)
	disp := dispatcher.NewDispatcher(agent, dispatcher.Options{
		Tracker:           tracker,
		Webhook:           hook,
		Publisher:         publisher,
		BackgroundTimeout: cfg.BackgroundTimeout,
		DeliveryAttempts:  cfg.WebhookMaxAttempts,
		RetryPolicy:       webhook.ExponentialRetryPolicy{Initial: cfg.WebhookRetryInitial, Max: cfg.WebhookRetryMax},
		AgentVersion:      cfg.AgentVersion,
	})
	s.disp = disp

	// Step 5: Subscribe the dispatcher on the A2A subject
	var sub *comms.Subscription
	if nc != nil {
		subject := cfg.A2ASubject
		if subject == "" {
			subject = commsutil.BuildAgentSubject(cfg.ServiceName, cfg.AgentMajor())
		}
		sub, err = nc.QueueSubscribe(subject, cfg.ServiceName, s.handleComms(ctx))
		if err != nil {
			return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, subject, err)
		}
		slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, subject))
	}

	// Step 6: Watchlist scheduler
	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sched = scheduler.NewScheduler(agent, cfg.Watchlist, cfg.PollInterval, cfg.BackgroundTimeout)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("%s - failed to start scheduler: %w", logPrefix, err)
		}
	}

	// Step 7: HTTP server
	httpAddr := cfg.ListenAddr()
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.routes(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s (A2A endpoint %s)", logPrefix, httpAddr, cfg.A2APath))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - Market agent is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown: stop intake, then let running tasks deliver.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.BackgroundTimeout+shutdownGrace)
	defer shutdownCancel()

	if sub != nil {
		sub.Unsubscribe()
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
	}
	if sched != nil {
		sched.Stop()
	}
	s.commsWG.Wait()
	if err := disp.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - dispatcher shutdown: %v", logPrefix, err))
	}
	notifier.Wait()
	cancel()
	if nc != nil {
		nc.Drain()
	}

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// runValueLogGC reclaims Badger value log space until ctx ends.
func runValueLogGC(ctx context.Context, store *kv.BadgerStore) {
	ticker := time.NewTicker(kvGCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.RunGC()
		}
	}
}

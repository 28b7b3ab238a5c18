// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// ReservedPaths are served by the agent itself and cannot carry the A2A endpoint.
var ReservedPaths = []string{"/", "/health", "/ready", "/agent.json", "/.well-known/agent.json", "/openapi.json", "/docs"}

// Task store backends.
const (
	TaskStoreMemory   = "memory"
	TaskStorePostgres = "postgres"
)

// Config holds market-agent configuration.
type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"market-agent"`

	// HTTP (HTTP_ADDR preferred, e.g. "0.0.0.0:8000")
	HTTPAddr           string        `envconfig:"HTTP_ADDR"`
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8000"`
	A2APath            string        `envconfig:"A2A_PATH" default:"/a2a/agent/market"`
	LenientStatus      bool          `envconfig:"RPC_LENIENT_STATUS" default:"false"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Agent
	AgentVersion      string        `envconfig:"AGENT_VERSION" default:"1.0.0"`
	BackgroundTimeout time.Duration `envconfig:"BACKGROUND_TIMEOUT" default:"45s"`

	// Webhook delivery
	WebhookTimeout      time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	WebhookMaxAttempts  int           `envconfig:"WEBHOOK_MAX_ATTEMPTS" default:"1"`
	WebhookRetryInitial time.Duration `envconfig:"WEBHOOK_RETRY_INITIAL" default:"1s"`
	WebhookRetryMax     time.Duration `envconfig:"WEBHOOK_RETRY_MAX" default:"30s"`

	// COMMS: optional NATS transport and task events.
	COMMSEnabled     bool   `envconfig:"COMMS_ENABLED" default:"false"`
	COMMSURL         string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	A2ASubject       string `envconfig:"A2A_SUBJECT"`
	TaskEventSubject string `envconfig:"TASK_EVENT_SUBJECT"`

	// Task store
	TaskStore     string `envconfig:"TASK_STORE" default:"memory"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH"`

	// Key-value store and sessions
	KVPath             string        `envconfig:"KV_PATH" default:"data/kv"`
	KVInMemory         bool          `envconfig:"KV_IN_MEMORY" default:"false"`
	SessionTTL         time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	SessionMaxMessages int           `envconfig:"SESSION_MAX_MESSAGES" default:"50"`

	// Market data providers
	CoinGeckoBase      string `envconfig:"COINGECKO_BASE"`
	CoinGeckoAPIKey    string `envconfig:"COINGECKO_API_KEY"`
	AlphaVantageBase   string `envconfig:"ALPHAVANTAGE_BASE"`
	AlphaVantageAPIKey string `envconfig:"ALPHAVANTAGE_API_KEY"`
	CryptoPanicBase    string `envconfig:"CRYPTOPANIC_BASE"`
	CryptoPanicAPIKey  string `envconfig:"CRYPTOPANIC_API_KEY"`
	NewsAPIBase        string `envconfig:"NEWSAPI_BASE"`
	NewsAPIKey         string `envconfig:"NEWSAPI_API_KEY"`

	// Narrative model
	LLMModel        string        `envconfig:"LLM_MODEL" default:"gemini-2.5-flash"`
	GeminiAPIKey    string        `envconfig:"GEMINI_API_KEY"`
	AnthropicAPIKey string        `envconfig:"ANTHROPIC_API_KEY"`
	LLMTimeout      time.Duration `envconfig:"LLM_TIMEOUT" default:"20s"`

	// Notifications
	EnableNotifications  bool          `envconfig:"ENABLE_NOTIFICATIONS" default:"true"`
	NotifierWebhook      string        `envconfig:"NOTIFIER_WEBHOOK"`
	NotifierWebhookToken string        `envconfig:"NOTIFIER_WEBHOOK_TOKEN"`
	NotificationCooldown time.Duration `envconfig:"NOTIFICATION_COOLDOWN" default:"15m"`
	ImpactThreshold      float64       `envconfig:"ANALYSIS_IMPACT_THRESHOLD" default:"0.5"`

	// Watchlist scheduler
	SchedulerEnabled bool          `envconfig:"SCHEDULER_ENABLED" default:"true"`
	Watchlist        []string      `envconfig:"WATCHLIST" default:"BTC,ETH,EUR/USD"`
	PollInterval     time.Duration `envconfig:"POLL_INTERVAL" default:"15m"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	c.TaskStore = strings.ToLower(strings.TrimSpace(c.TaskStore))
	return &c, nil
}

// ListenAddr returns HTTP_ADDR, or ":HTTP_PORT" when it is unset.
func (c *Config) ListenAddr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// AgentMajor returns the major component of AGENT_VERSION, or 0 when it does
// not parse.
func (c *Config) AgentMajor() uint64 {
	v, err := semver.NewVersion(c.AgentVersion)
	if err != nil {
		return 0
	}
	return v.Major()
}

// ValidateForServe checks required config when running the agent server.
func (c *Config) ValidateForServe() error {
	if _, err := semver.StrictNewVersion(c.AgentVersion); err != nil {
		return fmt.Errorf("%s - AGENT_VERSION %q is not a semantic version: %w", logPrefix, c.AgentVersion, err)
	}
	if !strings.HasPrefix(c.A2APath, "/") {
		return fmt.Errorf("%s - A2A_PATH must start with /", logPrefix)
	}
	for _, reserved := range ReservedPaths {
		if c.A2APath == reserved {
			return fmt.Errorf("%s - A2A_PATH %q collides with a built-in route", logPrefix, c.A2APath)
		}
	}
	switch c.TaskStore {
	case TaskStoreMemory:
	case TaskStorePostgres:
		if err := c.ValidateForDB(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%s - TASK_STORE must be %q or %q, got %q", logPrefix, TaskStoreMemory, TaskStorePostgres, c.TaskStore)
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"BACKGROUND_TIMEOUT", c.BackgroundTimeout},
		{"WEBHOOK_TIMEOUT", c.WebhookTimeout},
		{"HEALTH_CHECK_TIMEOUT", c.HealthCheckTimeout},
		{"LLM_TIMEOUT", c.LLMTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s - %s must be positive", logPrefix, d.name)
		}
	}
	if c.WebhookMaxAttempts < 1 {
		return fmt.Errorf("%s - WEBHOOK_MAX_ATTEMPTS must be at least 1", logPrefix)
	}
	if c.SchedulerEnabled && c.PollInterval <= 0 {
		return fmt.Errorf("%s - POLL_INTERVAL must be positive when the scheduler is enabled", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

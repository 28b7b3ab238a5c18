package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

var configEnvVars = []string{
	"SERVICE_NAME", "HTTP_ADDR", "HTTP_PORT", "A2A_PATH", "RPC_LENIENT_STATUS", "HEALTH_CHECK_TIMEOUT",
	"AGENT_VERSION", "BACKGROUND_TIMEOUT",
	"WEBHOOK_TIMEOUT", "WEBHOOK_MAX_ATTEMPTS", "WEBHOOK_RETRY_INITIAL", "WEBHOOK_RETRY_MAX",
	"COMMS_ENABLED", "COMMS_URL", "A2A_SUBJECT", "TASK_EVENT_SUBJECT",
	"TASK_STORE", "DATABASE_URL", "RUN_MIGRATIONS", "MIGRATION_PATH",
	"KV_PATH", "KV_IN_MEMORY", "SESSION_TTL", "SESSION_MAX_MESSAGES",
	"LLM_MODEL", "LLM_TIMEOUT",
	"ENABLE_NOTIFICATIONS", "NOTIFIER_WEBHOOK", "NOTIFICATION_COOLDOWN", "ANALYSIS_IMPACT_THRESHOLD",
	"SCHEDULER_ENABLED", "WATCHLIST", "POLL_INTERVAL", "LOG_LEVEL",
}

// unsetEnv clears keys for the duration of the test and restores them afterwards.
func unsetEnv(t *testing.T, keys []string) {
	t.Helper()
	for _, key := range keys {
		if old, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, old) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	unsetEnv(t, configEnvVars)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.ServiceName != "market-agent" {
		t.Errorf("config:config_test - ServiceName = %q, want %q", cfg.ServiceName, "market-agent")
	}
	if cfg.HTTPPort != 8000 {
		t.Errorf("config:config_test - HTTPPort = %d, want 8000", cfg.HTTPPort)
	}
	if cfg.ListenAddr() != ":8000" {
		t.Errorf("config:config_test - ListenAddr = %q, want :8000", cfg.ListenAddr())
	}
	if cfg.A2APath != "/a2a/agent/market" {
		t.Errorf("config:config_test - A2APath = %q, want /a2a/agent/market", cfg.A2APath)
	}
	if cfg.LenientStatus {
		t.Error("config:config_test - expected LenientStatus=false by default")
	}
	if cfg.AgentVersion != "1.0.0" {
		t.Errorf("config:config_test - AgentVersion = %q, want 1.0.0", cfg.AgentVersion)
	}
	if cfg.BackgroundTimeout != 45*time.Second {
		t.Errorf("config:config_test - BackgroundTimeout = %v, want 45s", cfg.BackgroundTimeout)
	}
	if cfg.WebhookTimeout != 10*time.Second {
		t.Errorf("config:config_test - WebhookTimeout = %v, want 10s", cfg.WebhookTimeout)
	}
	if cfg.WebhookMaxAttempts != 1 {
		t.Errorf("config:config_test - WebhookMaxAttempts = %d, want 1", cfg.WebhookMaxAttempts)
	}
	if cfg.COMMSEnabled {
		t.Error("config:config_test - expected COMMSEnabled=false by default")
	}
	if cfg.TaskStore != TaskStoreMemory {
		t.Errorf("config:config_test - TaskStore = %q, want memory", cfg.TaskStore)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("config:config_test - DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
	if cfg.KVPath != "data/kv" {
		t.Errorf("config:config_test - KVPath = %q, want data/kv", cfg.KVPath)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("config:config_test - SessionTTL = %v, want 24h", cfg.SessionTTL)
	}
	if cfg.SessionMaxMessages != 50 {
		t.Errorf("config:config_test - SessionMaxMessages = %d, want 50", cfg.SessionMaxMessages)
	}
	if cfg.LLMModel != "gemini-2.5-flash" {
		t.Errorf("config:config_test - LLMModel = %q, want gemini-2.5-flash", cfg.LLMModel)
	}
	if !cfg.EnableNotifications {
		t.Error("config:config_test - expected EnableNotifications=true by default")
	}
	if cfg.NotificationCooldown != 15*time.Minute {
		t.Errorf("config:config_test - NotificationCooldown = %v, want 15m", cfg.NotificationCooldown)
	}
	if cfg.ImpactThreshold != 0.5 {
		t.Errorf("config:config_test - ImpactThreshold = %v, want 0.5", cfg.ImpactThreshold)
	}
	if got := strings.Join(cfg.Watchlist, ","); got != "BTC,ETH,EUR/USD" {
		t.Errorf("config:config_test - Watchlist = %q, want BTC,ETH,EUR/USD", got)
	}
	if cfg.PollInterval != 15*time.Minute {
		t.Errorf("config:config_test - PollInterval = %v, want 15m", cfg.PollInterval)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("config:config_test - defaults should validate: %v", err)
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	unsetEnv(t, configEnvVars)
	overrides := map[string]string{
		"SERVICE_NAME":         "fx-agent",
		"HTTP_ADDR":            "127.0.0.1:9090",
		"A2A_PATH":             "/rpc",
		"RPC_LENIENT_STATUS":   "true",
		"AGENT_VERSION":        "2.3.1",
		"BACKGROUND_TIMEOUT":   "5s",
		"WEBHOOK_MAX_ATTEMPTS": "3",
		"COMMS_ENABLED":        "true",
		"A2A_SUBJECT":          "agents.market",
		"TASK_STORE":           "Postgres",
		"DATABASE_URL":         "postgres://test@localhost/test",
		"KV_IN_MEMORY":         "true",
		"WATCHLIST":            "SOL,GBP/USD",
		"LOG_LEVEL":            "debug",
	}
	for key, val := range overrides {
		os.Setenv(key, val)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.ServiceName != "fx-agent" {
		t.Errorf("config:config_test - ServiceName = %q, want fx-agent", cfg.ServiceName)
	}
	if cfg.ListenAddr() != "127.0.0.1:9090" {
		t.Errorf("config:config_test - ListenAddr = %q, want 127.0.0.1:9090", cfg.ListenAddr())
	}
	if cfg.A2APath != "/rpc" {
		t.Errorf("config:config_test - A2APath = %q, want /rpc", cfg.A2APath)
	}
	if !cfg.LenientStatus {
		t.Error("config:config_test - expected LenientStatus=true")
	}
	if cfg.AgentMajor() != 2 {
		t.Errorf("config:config_test - AgentMajor = %d, want 2", cfg.AgentMajor())
	}
	if cfg.BackgroundTimeout != 5*time.Second {
		t.Errorf("config:config_test - BackgroundTimeout = %v, want 5s", cfg.BackgroundTimeout)
	}
	if cfg.WebhookMaxAttempts != 3 {
		t.Errorf("config:config_test - WebhookMaxAttempts = %d, want 3", cfg.WebhookMaxAttempts)
	}
	if !cfg.COMMSEnabled || cfg.A2ASubject != "agents.market" {
		t.Errorf("config:config_test - COMMS = %v/%q, want true/agents.market", cfg.COMMSEnabled, cfg.A2ASubject)
	}
	if cfg.TaskStore != TaskStorePostgres {
		t.Errorf("config:config_test - TaskStore = %q, want postgres", cfg.TaskStore)
	}
	if !cfg.KVInMemory {
		t.Error("config:config_test - expected KVInMemory=true")
	}
	if got := strings.Join(cfg.Watchlist, ","); got != "SOL,GBP/USD" {
		t.Errorf("config:config_test - Watchlist = %q, want SOL,GBP/USD", got)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("config:config_test - LogLevel = %q, want debug", cfg.LogLevel)
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("config:config_test - overrides should validate: %v", err)
	}
}

func TestLoadConfig_LogLevels(t *testing.T) {
	unsetEnv(t, []string{"LOG_LEVEL"})
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, level := range validLevels {
		os.Setenv("LOG_LEVEL", level)
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("config:config_test - unexpected error for level %q: %v", level, err)
		}
		if cfg.LogLevel != level {
			t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, level)
		}
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	unsetEnv(t, []string{"BACKGROUND_TIMEOUT"})
	os.Setenv("BACKGROUND_TIMEOUT", "soon")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("config:config_test - expected error for malformed BACKGROUND_TIMEOUT")
	}
}

func validConfig() *Config {
	return &Config{
		A2APath:            "/a2a/agent/market",
		AgentVersion:       "1.0.0",
		TaskStore:          TaskStoreMemory,
		BackgroundTimeout:  45 * time.Second,
		WebhookTimeout:     10 * time.Second,
		WebhookMaxAttempts: 1,
		HealthCheckTimeout: 5 * time.Second,
		LLMTimeout:         20 * time.Second,
		SchedulerEnabled:   true,
		PollInterval:       15 * time.Minute,
	}
}

func TestValidateForServe(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad version", func(c *Config) { c.AgentVersion = "v1" }, "AGENT_VERSION"},
		{"relative path", func(c *Config) { c.A2APath = "a2a" }, "A2A_PATH"},
		{"path collides with health", func(c *Config) { c.A2APath = "/health" }, "A2A_PATH"},
		{"path collides with root", func(c *Config) { c.A2APath = "/" }, "A2A_PATH"},
		{"path collides with docs", func(c *Config) { c.A2APath = "/docs" }, "A2A_PATH"},
		{"unknown store", func(c *Config) { c.TaskStore = "redis" }, "TASK_STORE"},
		{"postgres without url", func(c *Config) { c.TaskStore = TaskStorePostgres }, "DATABASE_URL"},
		{"postgres with url", func(c *Config) {
			c.TaskStore = TaskStorePostgres
			c.DatabaseURL = "postgres://localhost/agent"
		}, ""},
		{"zero background timeout", func(c *Config) { c.BackgroundTimeout = 0 }, "BACKGROUND_TIMEOUT"},
		{"zero webhook timeout", func(c *Config) { c.WebhookTimeout = 0 }, "WEBHOOK_TIMEOUT"},
		{"zero attempts", func(c *Config) { c.WebhookMaxAttempts = 0 }, "WEBHOOK_MAX_ATTEMPTS"},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, "POLL_INTERVAL"},
		{"scheduler disabled ignores interval", func(c *Config) {
			c.SchedulerEnabled = false
			c.PollInterval = 0
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.ValidateForServe()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("config:config_test - unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("config:config_test - error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestValidateForDB(t *testing.T) {
	c := &Config{}
	if err := c.ValidateForDB(); err == nil {
		t.Error("config:config_test - expected error without DATABASE_URL")
	}
	c.DatabaseURL = "postgres://localhost/agent"
	if err := c.ValidateForDB(); err != nil {
		t.Errorf("config:config_test - unexpected error: %v", err)
	}
}

func TestAgentMajor_Unparseable(t *testing.T) {
	c := &Config{AgentVersion: "latest"}
	if c.AgentMajor() != 0 {
		t.Errorf("config:config_test - AgentMajor = %d, want 0", c.AgentMajor())
	}
}

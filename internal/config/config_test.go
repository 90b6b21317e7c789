package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Environment: "production",
		Server: ServerConfig{
			Port:                8080,
			ReadTimeoutSeconds:  30 * time.Second,
			WriteTimeoutSeconds: 30 * time.Second,
			MaxBodyBytes:        1 << 20,
			ProcessingTimeout:   300 * time.Second,
			ProcessingBudget:    8 * time.Minute,
		},
		Database: DatabaseConfig{
			Backend: "postgres",
			Postgres: PostgresConfig{
				Host: "localhost", Port: 5432, User: "hookgate", DBName: "hookgate", SSLMode: "disable",
			},
		},
		Webhooks: WebhooksConfig{
			Replay:      ReplayConfig{Window: 5 * time.Minute, ClockSkew: time.Minute},
			Idempotency: IdempotencyConfig{ContentWindow: time.Hour},
			RateLimit:   RateLimitConfig{Enabled: true, Backend: "memory", MaxRequests: 100, Window: time.Minute},
			Sources: map[string]SourceConfig{
				"stripe": {Enabled: true, Secrets: []string{"whsec_new", "whsec_old"}},
			},
		},
		DLQ:     DLQConfig{Enabled: true, PollInterval: 15 * time.Second, BatchSize: 25, ReplayRPS: 5},
		Sweeper: SweeperConfig{Enabled: true, Interval: time.Minute, StuckAfter: 10 * time.Minute},
	}
}

func TestValidateStatic_Valid(t *testing.T) {
	require.NoError(t, ValidateStatic(validConfig()))
}

func TestValidateStatic_MissingSecretInProduction(t *testing.T) {
	cfg := validConfig()
	cfg.Webhooks.Sources["stripe"] = SourceConfig{Enabled: true}

	err := ValidateStatic(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET")

	cfg.Environment = "development"
	assert.NoError(t, ValidateStatic(cfg), "missing secrets outside production fail closed at request time")
}

func TestValidateStatic_AllowUnsignedRejectedInProduction(t *testing.T) {
	cfg := validConfig()
	cfg.Webhooks.AllowUnsigned = true
	require.Error(t, ValidateStatic(cfg))

	cfg.Environment = "test"
	assert.NoError(t, ValidateStatic(cfg))
}

func TestValidateStatic_UnknownSource(t *testing.T) {
	cfg := validConfig()
	cfg.Webhooks.Sources["paypal"] = SourceConfig{Enabled: true, Secrets: []string{"x"}}
	assert.Error(t, ValidateStatic(cfg))
}

func TestValidateStatic_RedisLimiterNeedsRedis(t *testing.T) {
	cfg := validConfig()
	cfg.Webhooks.RateLimit.Backend = "redis"
	assert.Error(t, ValidateStatic(cfg))

	cfg.Database.Redis = RedisConfig{Host: "localhost", Port: 6379}
	assert.NoError(t, ValidateStatic(cfg))
}

func TestApplyEnvOverrides_SecretsRotationList(t *testing.T) {
	cfg := validConfig()
	env := map[string]string{
		"TICKETTAILOR_WEBHOOK_SECRET": " new-secret , old-secret ",
		"BROKER_KAFKA_BROKERS":        "k1:9092,k2:9092",
	}

	require.NoError(t, applyEnvOverrides(cfg, func(k string) string { return env[k] }))

	assert.Equal(t, []string{"new-secret", "old-secret"}, cfg.Webhooks.Sources["tickettailor"].Secrets)
	assert.Equal(t, []string{"whsec_new", "whsec_old"}, cfg.Webhooks.Sources["stripe"].Secrets)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Broker.Kafka.Brokers)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
environment: development
database:
  postgres:
    host: localhost
    port: 5432
    user: hookgate
    dbname: hookgate
webhooks:
  sources:
    thinkific:
      enabled: true
      accept_rule: 'event_type.startsWith("order")'
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("THINKIFIC_WEBHOOK_SECRET", "course-secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Webhooks.Replay.Window)
	assert.Equal(t, 100, cfg.Webhooks.RateLimit.MaxRequests)
	assert.Equal(t, []string{"course-secret"}, cfg.Webhooks.Sources["thinkific"].Secrets)
	assert.Equal(t, `event_type.startsWith("order")`, cfg.Webhooks.Sources["thinkific"].AcceptRule)
	assert.Equal(t, []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute}, cfg.DLQ.RetryDelays)
	assert.Equal(t, 8*time.Minute, cfg.Server.ProcessingBudget)
	assert.Greater(t, cfg.Sweeper.StuckAfter, cfg.Server.ProcessingBudget)
}

func TestValidateStatic_RetryDelaysMustBePositive(t *testing.T) {
	cfg := validConfig()
	cfg.DLQ.RetryDelays = []time.Duration{time.Minute, 0}

	err := ValidateStatic(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dlq.retry_delays[1]")
}

func TestValidateStatic_StuckAfterMustOutlastProcessing(t *testing.T) {
	tests := []struct {
		name       string
		timeout    time.Duration
		budget     time.Duration
		stuckAfter time.Duration
		wantField  string
	}{
		{name: "defaults", timeout: 300 * time.Second, budget: 8 * time.Minute, stuckAfter: 10 * time.Minute},
		{name: "stuck before timeout", timeout: 300 * time.Second, budget: 300 * time.Second, stuckAfter: 2 * time.Minute, wantField: "sweeper.stuck_after"},
		{name: "stuck equals timeout", timeout: 300 * time.Second, budget: 300 * time.Second, stuckAfter: 300 * time.Second, wantField: "sweeper.stuck_after"},
		{name: "stuck before budget", timeout: time.Minute, budget: 15 * time.Minute, stuckAfter: 10 * time.Minute, wantField: "sweeper.stuck_after"},
		{name: "budget below timeout", timeout: 5 * time.Minute, budget: time.Minute, stuckAfter: 10 * time.Minute, wantField: "server.processing_budget"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.ProcessingTimeout = tt.timeout
			cfg.Server.ProcessingBudget = tt.budget
			cfg.Sweeper.StuckAfter = tt.stuckAfter

			err := ValidateStatic(cfg)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantField)
		})
	}
}

func TestValidateStatic_DisabledSweeperIgnoresStuckAfter(t *testing.T) {
	cfg := validConfig()
	cfg.Sweeper = SweeperConfig{Enabled: false, StuckAfter: time.Second}

	assert.NoError(t, ValidateStatic(cfg))
}

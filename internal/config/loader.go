package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"hookgate/internal/constants"
)

// KnownSources lists the sender platforms whose secrets are read from
// <SOURCE>_WEBHOOK_SECRET.
var KnownSources = []string{"stripe", "tickettailor", "thinkific"}

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg, os.Getenv); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("environment", constants.EnvironmentDevelopment)

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", "30s")
	viper.SetDefault("server.write_timeout_seconds", "30s")
	viper.SetDefault("server.max_body_bytes", constants.DefaultMaxBodyBytes)
	viper.SetDefault("server.processing_timeout", constants.DefaultProcessingTimeout)
	viper.SetDefault("server.processing_budget", constants.DefaultProcessingBudget)

	viper.SetDefault("database.backend", constants.BackendPostgres)

	viper.SetDefault("webhooks.replay.window", constants.DefaultReplayWindow)
	viper.SetDefault("webhooks.replay.clock_skew", constants.DefaultClockSkewTolerance)
	viper.SetDefault("webhooks.idempotency.content_window", constants.DefaultContentDedupWindow)
	viper.SetDefault("webhooks.rate_limit.enabled", true)
	viper.SetDefault("webhooks.rate_limit.backend", constants.BackendMemory)
	viper.SetDefault("webhooks.rate_limit.max_requests", constants.DefaultRateLimitMaxRequests)
	viper.SetDefault("webhooks.rate_limit.window", constants.DefaultRateLimitWindow)
	viper.SetDefault("webhooks.rate_limit.cleanup_interval", constants.DefaultRateLimitCleanup)

	viper.SetDefault("dlq.enabled", true)
	viper.SetDefault("dlq.poll_interval", constants.DefaultDLQPollInterval)
	viper.SetDefault("dlq.batch_size", constants.DefaultDLQBatchSize)
	viper.SetDefault("dlq.lease", constants.DefaultDLQLease)
	viper.SetDefault("dlq.replay_rps", constants.DefaultDLQReplayRPS)
	viper.SetDefault("dlq.retry_delays", []string{"1m", "5m", "30m"})

	viper.SetDefault("sweeper.enabled", true)
	viper.SetDefault("sweeper.interval", constants.DefaultSweepInterval)
	viper.SetDefault("sweeper.stuck_after", constants.DefaultStuckAfter)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

func bindEnvVariables() {
	viper.BindEnv("environment", "APP_ENV")

	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.forward_topic", "BROKER_KAFKA_FORWARD_TOPIC")
	viper.BindEnv("broker.kafka.alert_topic", "BROKER_KAFKA_ALERT_TOPIC")

	viper.BindEnv("database.backend", "DATABASE_BACKEND")
	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

// applyEnvOverrides handles the list-valued variables viper cannot split:
// Kafka brokers and the per-sender secret lists.
func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	if brokers := splitList(getenv("BROKER_KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Broker.Kafka.Brokers = brokers
	}

	for _, name := range KnownSources {
		secrets := splitList(getenv(SecretEnvVar(name)))
		if len(secrets) == 0 {
			continue
		}
		if cfg.Webhooks.Sources == nil {
			cfg.Webhooks.Sources = make(map[string]SourceConfig)
		}
		src := cfg.Webhooks.Sources[name]
		src.Secrets = secrets
		cfg.Webhooks.Sources[name] = src
	}

	return nil
}

// SecretEnvVar returns the environment variable holding a sender's secrets.
func SecretEnvVar(source string) string {
	return strings.ToUpper(source) + "_WEBHOOK_SECRET"
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

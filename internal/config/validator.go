package config

import (
	"fmt"
	"sort"
	"strings"

	"hookgate/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateEnvironment(cfg.Environment); err != nil {
		errors = append(errors, err)
	}

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if cfg.IsProduction() && cfg.Database.Backend == constants.BackendMemory {
		errors = append(errors, &ValidationError{
			Field:   "database.backend",
			Message: "the in-memory ledger is not durable and cannot be used in production",
		})
	}

	errors = append(errors, validateWebhooks(cfg)...)

	if err := validateDLQ(cfg.DLQ); err != nil {
		errors = append(errors, err)
	}

	if err := validateSweeper(cfg); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateEnvironment(env string) error {
	switch env {
	case constants.EnvironmentProduction, constants.EnvironmentDevelopment, constants.EnvironmentTest:
		return nil
	default:
		return &ValidationError{
			Field:   "environment",
			Message: fmt.Sprintf("unknown environment %q (valid: production, development, test)", env),
		}
	}
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	if cfg.MaxBodyBytes <= 0 {
		return &ValidationError{
			Field:   "server.max_body_bytes",
			Message: "max body size must be positive",
		}
	}

	if cfg.ProcessingTimeout <= 0 {
		return &ValidationError{
			Field:   "server.processing_timeout",
			Message: "processing timeout must be positive",
		}
	}

	if cfg.ProcessingBudget < cfg.ProcessingTimeout {
		return &ValidationError{
			Field:   "server.processing_budget",
			Message: fmt.Sprintf("processing budget must be at least the processing timeout (%s)", cfg.ProcessingTimeout),
		}
	}

	return nil
}

// validateSweeper keeps the sweeper away from events that may still be
// processing: a row is only stuck once its processing budget has run out.
func validateSweeper(cfg *Config) error {
	sw := cfg.Sweeper
	if !sw.Enabled {
		return nil
	}
	if sw.Interval <= 0 {
		return &ValidationError{Field: "sweeper.interval", Message: "sweep interval must be positive"}
	}
	if sw.StuckAfter <= cfg.Server.ProcessingBudget || sw.StuckAfter <= cfg.Server.ProcessingTimeout {
		return &ValidationError{
			Field: "sweeper.stuck_after",
			Message: fmt.Sprintf("must exceed server.processing_timeout (%s) and server.processing_budget (%s)",
				cfg.Server.ProcessingTimeout, cfg.Server.ProcessingBudget),
		}
	}
	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return nil
	}

	if cfg.Type != "kafka" {
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Kafka.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	switch cfg.Backend {
	case constants.BackendPostgres, "":
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	case constants.BackendMongoDB:
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	case constants.BackendMemory:
	default:
		return &ValidationError{
			Field:   "database.backend",
			Message: fmt.Sprintf("unknown backend %q (valid: postgres, mongodb, memory)", cfg.Backend),
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if cfg.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI is required",
		}
	}

	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	return nil
}

func validateWebhooks(cfg *Config) []error {
	var errs []error
	wh := cfg.Webhooks

	if wh.AllowUnsigned && cfg.IsProduction() {
		errs = append(errs, &ValidationError{
			Field:   "webhooks.allow_unsigned",
			Message: "unsigned webhooks cannot be accepted in production",
		})
	}

	if wh.Replay.Window <= 0 {
		errs = append(errs, &ValidationError{Field: "webhooks.replay.window", Message: "replay window must be positive"})
	}
	if wh.Replay.ClockSkew < 0 {
		errs = append(errs, &ValidationError{Field: "webhooks.replay.clock_skew", Message: "clock skew must be non-negative"})
	}
	if wh.Idempotency.ContentWindow <= 0 {
		errs = append(errs, &ValidationError{Field: "webhooks.idempotency.content_window", Message: "content window must be positive"})
	}

	if wh.RateLimit.Enabled {
		if wh.RateLimit.MaxRequests <= 0 {
			errs = append(errs, &ValidationError{Field: "webhooks.rate_limit.max_requests", Message: "max requests must be positive"})
		}
		if wh.RateLimit.Window <= 0 {
			errs = append(errs, &ValidationError{Field: "webhooks.rate_limit.window", Message: "window must be positive"})
		}
		switch wh.RateLimit.Backend {
		case constants.BackendMemory, "":
		case constants.BackendRedis:
			if cfg.Database.Redis.Host == "" {
				errs = append(errs, &ValidationError{Field: "webhooks.rate_limit.backend", Message: "redis backend requires database.redis"})
			}
		default:
			errs = append(errs, &ValidationError{
				Field:   "webhooks.rate_limit.backend",
				Message: fmt.Sprintf("unknown backend %q (valid: memory, redis)", wh.RateLimit.Backend),
			})
		}
	}

	names := make([]string, 0, len(wh.Sources))
	for name := range wh.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		src := wh.Sources[name]
		if !isKnownSource(name) {
			errs = append(errs, &ValidationError{
				Field:   "webhooks.sources." + name,
				Message: fmt.Sprintf("unknown source (valid: %s)", strings.Join(KnownSources, ", ")),
			})
			continue
		}
		if src.Enabled && len(src.Secrets) == 0 && cfg.IsProduction() {
			errs = append(errs, &ValidationError{
				Field:   "webhooks.sources." + name + ".secrets",
				Message: fmt.Sprintf("no signing secret configured; set %s", SecretEnvVar(name)),
			})
		}
	}

	return errs
}

func isKnownSource(name string) bool {
	for _, s := range KnownSources {
		if s == name {
			return true
		}
	}
	return false
}

func validateDLQ(cfg DLQConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.PollInterval <= 0 {
		return &ValidationError{Field: "dlq.poll_interval", Message: "poll interval must be positive"}
	}
	if cfg.BatchSize <= 0 {
		return &ValidationError{Field: "dlq.batch_size", Message: "batch size must be positive"}
	}
	if cfg.ReplayRPS <= 0 {
		return &ValidationError{Field: "dlq.replay_rps", Message: "replay rps must be positive"}
	}
	for i, d := range cfg.RetryDelays {
		if d <= 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("dlq.retry_delays[%d]", i),
				Message: "retry delays must be positive",
			}
		}
	}
	return nil
}

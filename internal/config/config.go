package config

import (
	"time"
)

type Config struct {
	Environment    string               `mapstructure:"environment"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Webhooks       WebhooksConfig       `mapstructure:"webhooks"`
	DLQ            DLQConfig            `mapstructure:"dlq"`
	Sweeper        SweeperConfig        `mapstructure:"sweeper"`
	Admin          AdminConfig          `mapstructure:"admin"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
	MaxBodyBytes        int64         `mapstructure:"max_body_bytes"`
	ProcessingTimeout   time.Duration `mapstructure:"processing_timeout"`
	// ProcessingBudget bounds the business effect after the sender has been
	// answered 503; it must end before the sweeper considers the row stuck.
	ProcessingBudget time.Duration `mapstructure:"processing_budget"`
	TrustedProxies   []string      `mapstructure:"trusted_proxies"`
}

type DatabaseConfig struct {
	Backend       string         `mapstructure:"backend"` // "postgres" (default) or "mongodb"
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	MongoDB       MongoDBConfig  `mapstructure:"mongodb"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	ForwardTopic string   `mapstructure:"forward_topic"`
	AlertTopic   string   `mapstructure:"alert_topic"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WebhooksConfig struct {
	// AllowUnsigned disables signature verification. Test-only, rejected in production.
	AllowUnsigned bool                    `mapstructure:"allow_unsigned"`
	Replay        ReplayConfig            `mapstructure:"replay"`
	Idempotency   IdempotencyConfig       `mapstructure:"idempotency"`
	RateLimit     RateLimitConfig         `mapstructure:"rate_limit"`
	Sources       map[string]SourceConfig `mapstructure:"sources"`
}

type ReplayConfig struct {
	Window    time.Duration `mapstructure:"window"`
	ClockSkew time.Duration `mapstructure:"clock_skew"`
}

type IdempotencyConfig struct {
	ContentWindow time.Duration `mapstructure:"content_window"`
}

type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Backend         string        `mapstructure:"backend"` // "memory" (default) or "redis"
	MaxRequests     int           `mapstructure:"max_requests"`
	Window          time.Duration `mapstructure:"window"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type SourceConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Secrets    []string `mapstructure:"secrets"`
	Origin     string   `mapstructure:"origin"`
	AcceptRule string   `mapstructure:"accept_rule"`
}

type DLQConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	Lease        time.Duration `mapstructure:"lease"`
	ReplayRPS    float64       `mapstructure:"replay_rps"`
	// RetryDelays is the automatic retry schedule; its length is the
	// retry budget.
	RetryDelays []time.Duration `mapstructure:"retry_delays"`
}

type SweeperConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	StuckAfter time.Duration `mapstructure:"stuck_after"`
}

type AdminConfig struct {
	APIKeys   map[string]string    `mapstructure:"api_keys"` // key -> operator name
	RateLimit AdminRateLimitConfig `mapstructure:"rate_limit"`
}

type AdminRateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}

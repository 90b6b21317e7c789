package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	ServiceName     = "ingestion-service"
	ShutdownTimeout = 5 * time.Second
)

const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"
	EnvironmentTest        = "test"
)

const (
	BackendPostgres = "postgres"
	BackendMongoDB  = "mongodb"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

const (
	DefaultMaxBodyBytes      = 1 << 20
	DefaultProcessingTimeout = 300 * time.Second
	DefaultProcessingBudget  = 8 * time.Minute
	RecorderWriteTimeout     = 5 * time.Second
)

const (
	DefaultReplayWindow       = 5 * time.Minute
	DefaultClockSkewTolerance = 1 * time.Minute
	DefaultContentDedupWindow = 1 * time.Hour
)

const (
	DefaultRateLimitMaxRequests = 100
	DefaultRateLimitWindow      = 60 * time.Second
	DefaultRateLimitCleanup     = 60 * time.Second
	CacheKeyPrefixRateLimit     = "ratelimit:"
)

const (
	DefaultDLQPollInterval = 15 * time.Second
	DefaultDLQBatchSize    = 25
	DefaultDLQLease        = 2 * time.Minute
	DefaultDLQReplayRPS    = 5.0
)

const (
	DefaultSweepInterval = 1 * time.Minute
	DefaultStuckAfter    = 10 * time.Minute
	DefaultSweepBatch    = 100
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	DefaultMongoDBName = "hookgate"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderAPIKey    = "X-API-Key"

	WebhookPathPrefix = "/webhooks/"
)

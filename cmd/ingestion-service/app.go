package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	"hookgate/internal/broker"
	"hookgate/internal/config"
	"hookgate/internal/constants"
	"hookgate/internal/deadletter"
	"hookgate/internal/ingestion"
	"hookgate/internal/ledger"
	"hookgate/internal/logger"
	"hookgate/internal/security"
	"hookgate/pkg/bootstrap"
	"hookgate/pkg/circuitbreaker"
	"hookgate/pkg/health"
	"hookgate/pkg/metrics"
	"hookgate/pkg/middleware"
	"hookgate/pkg/migrations"
	"hookgate/pkg/ratelimit"
	"hookgate/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector

	events     ledger.EventStore
	dlqStore   deadletter.Store
	dlqHandler *deadletter.Handler
	limiter    ratelimit.RateLimiter
	memLimiter *ratelimit.FixedWindowLimiter
	processor  *ingestion.Processor
	recorder   *ledger.Recorder
	dedup      *ledger.IdempotencyChecker
	worker     *deadletter.Worker
	sweeper    *ledger.Sweeper

	health *health.CheckerRegistry
	router *gin.Engine
	server *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	base := bootstrap.NewBase(cfg, log)
	return &App{
		Base:        base,
		dbConnector: bootstrap.NewDatabaseConnector(base),
		health:      health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, a.Config.Environment)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.OnShutdown("tracer provider", tp.Shutdown)

	metrics.Register()

	if err := a.initStores(ctx); err != nil {
		return fmt.Errorf("failed to initialize stores: %w", err)
	}

	if err := a.initLimiter(ctx); err != nil {
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initProcessing(ctx); err != nil {
		return fmt.Errorf("failed to initialize processing: %w", err)
	}

	if err := a.initRouter(ctx); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
	return nil
}

func (a *App) initStores(ctx context.Context) error {
	backend := a.Config.Database.Backend

	switch backend {
	case constants.BackendPostgres:
		db, err := a.dbConnector.InitPostgreSQL(ctx)
		if err != nil {
			return err
		}
		if db == nil {
			return fmt.Errorf("database.postgres.host is required for the postgres backend")
		}

		if a.Config.Database.RunMigrations {
			if err := migrations.Up(db); err != nil {
				return err
			}
			a.Logger.InfowCtx(ctx, "PostgreSQL migrations applied")
		}

		a.events = ledger.NewPostgresStore(db)
		a.dlqStore = deadletter.NewPostgresStore(db)
		a.health.Register(health.NewPostgreSQLChecker(db))

	case constants.BackendMongoDB:
		client, err := a.dbConnector.InitMongoDB(ctx)
		if err != nil {
			return err
		}
		if client == nil {
			return fmt.Errorf("database.mongodb.uri is required for the mongodb backend")
		}
		mongoDB := a.dbConnector.MongoDatabase(client)

		// The claim index is the duplicate barrier, so it is ensured on every
		// start rather than only when migrations are requested.
		if err := migrations.EnsureMongoIndexes(ctx, mongoDB); err != nil {
			return err
		}

		a.events = ledger.NewMongoStore(mongoDB)
		a.dlqStore = deadletter.NewMongoStore(mongoDB)
		a.health.Register(health.NewMongoDBChecker(client))

	case constants.BackendMemory:
		a.Logger.WarnwCtx(ctx, "Using the in-memory ledger; events are lost on restart")
		a.events = ledger.NewMemoryStore()
		a.dlqStore = deadletter.NewMemoryStore()

	default:
		return fmt.Errorf("unknown database backend %q", backend)
	}

	a.events = ledger.NewCircuitBreakerStore(a.events, "ledger_"+backend, a.Config.CircuitBreaker)
	return nil
}

func (a *App) initLimiter(ctx context.Context) error {
	cfg := a.Config.Webhooks.RateLimit
	if !cfg.Enabled {
		a.Logger.WarnwCtx(ctx, "Webhook rate limiting disabled")
		return nil
	}

	switch cfg.Backend {
	case constants.BackendRedis:
		rdb, err := a.dbConnector.InitRedis(ctx)
		if err != nil {
			return err
		}
		if rdb == nil {
			return fmt.Errorf("database.redis.host is required for the redis rate limiter")
		}

		cb := a.Config.CircuitBreaker
		wrapper := circuitbreaker.NewWrapper(circuitbreaker.Tuned("redis_ratelimit",
			cb.MaxRequests, cb.Interval, cb.Timeout, cb.FailureRatio, cb.MinRequests))
		a.limiter = ratelimit.NewRedisLimiter(rdb, cfg.MaxRequests, cfg.Window, wrapper)
		a.health.Register(health.Optional(health.NewRedisChecker(rdb)))

	default:
		a.memLimiter = ratelimit.NewFixedWindowLimiter(cfg.MaxRequests, cfg.Window)
		a.limiter = a.memLimiter
		a.OnShutdown("rate limiter cleanup", func(context.Context) error {
			a.memLimiter.Stop()
			return nil
		})
	}

	a.Logger.InfowCtx(ctx, "Webhook rate limiting enabled",
		"backend", cfg.Backend,
		"max_requests", cfg.MaxRequests,
		"window", cfg.Window,
	)
	return nil
}

func (a *App) initProcessing(ctx context.Context) error {
	expressions := make(map[string]string)
	for name, src := range a.Config.Webhooks.Sources {
		if src.Enabled && src.AcceptRule != "" {
			expressions[name] = src.AcceptRule
		}
	}
	rules, err := ingestion.NewAcceptRules(expressions)
	if err != nil {
		return err
	}

	kafkaCfg := a.Config.Broker.Kafka
	pipeline := broker.NewPipeline(a.Producer, kafkaCfg, a.Logger)

	handlerOpts := []deadletter.HandlerOption{deadletter.WithDelays(a.retryDelays()...)}
	if pipeline.Alerter != nil {
		handlerOpts = append(handlerOpts, deadletter.WithAlerter(pipeline.Alerter))
	}
	if pipeline.Forwarding {
		a.health.Register(health.NewKafkaChecker(kafkaCfg.Brokers))
		a.Logger.InfowCtx(ctx, "Forwarding accepted webhooks",
			"topic", kafkaCfg.ForwardTopic,
			"alerts", kafkaCfg.AlertTopic != "",
		)
	} else {
		a.Logger.WarnwCtx(ctx, "No broker configured; accepted webhooks are only logged")
	}

	a.processor = ingestion.NewProcessor(rules, pipeline.Applier, a.Logger)
	a.recorder = ledger.NewRecorder(a.events, a.Logger)
	a.dedup = ledger.NewIdempotencyChecker(a.events, a.Config.Webhooks.Idempotency.ContentWindow, a.Logger)
	a.dlqHandler = deadletter.NewHandler(a.dlqStore, a.Logger, handlerOpts...)

	if a.Config.DLQ.Enabled {
		// Replays claim through the same ledger as live deliveries.
		replayer := ingestion.NewReplayer(a.processor, a.recorder, a.dedup, a.Logger)
		a.worker = deadletter.NewWorker(a.dlqStore, replayer, a.workerConfig(), a.Logger)
	}

	if a.Config.Sweeper.Enabled {
		a.sweeper = ledger.NewSweeper(a.events, a.dlqHandler,
			a.Config.Sweeper.Interval, a.Config.Sweeper.StuckAfter, a.Logger)
	}
	return nil
}

func (a *App) workerConfig() deadletter.WorkerConfig {
	wc := deadletter.DefaultWorkerConfig()
	cfg := a.Config.DLQ
	if cfg.PollInterval > 0 {
		wc.PollInterval = cfg.PollInterval
	}
	if cfg.BatchSize > 0 {
		wc.BatchSize = cfg.BatchSize
	}
	if cfg.Lease > 0 {
		wc.Lease = cfg.Lease
	}
	if cfg.ReplayRPS > 0 {
		wc.ReplayRPS = cfg.ReplayRPS
	}
	wc.Delays = a.retryDelays()
	return wc
}

// retryDelays is shared by the handler that schedules the first retry and
// the worker that schedules the rest.
func (a *App) retryDelays() []time.Duration {
	if len(a.Config.DLQ.RetryDelays) == 0 {
		return deadletter.DefaultDelays
	}
	return a.Config.DLQ.RetryDelays
}

func (a *App) initRouter(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if err := router.SetTrustedProxies(a.Config.Server.TrustedProxies); err != nil {
		return fmt.Errorf("invalid trusted proxies: %w", err)
	}

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	endpoints, err := a.buildEndpoints(ctx)
	if err != nil {
		return err
	}
	ingestion.RegisterRoutes(router, endpoints...)

	a.registerAdmin(ctx, router)

	router.GET("/health", health.Handler(a.health))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
	return nil
}

func (a *App) buildEndpoints(ctx context.Context) ([]*ingestion.Endpoint, error) {
	wh := a.Config.Webhooks

	deps := ingestion.EndpointDeps{
		Replay:      security.NewReplayGuard(wh.Replay.Window, wh.Replay.ClockSkew),
		Limiter:     a.limiter,
		Recorder:    a.recorder,
		Idempotency: a.dedup,
		Processor:   a.processor,
		DLQ:         a.dlqHandler,
		Logger:      a.Logger,
	}

	names := make([]string, 0, len(wh.Sources))
	for name := range wh.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	var endpoints []*ingestion.Endpoint
	for _, name := range names {
		srcCfg := wh.Sources[name]
		if !srcCfg.Enabled {
			continue
		}

		src, err := ingestion.LookupSource(name)
		if err != nil {
			return nil, err
		}

		ep := ingestion.NewEndpoint(src, deps, ingestion.EndpointOptions{
			Secrets:           srcCfg.Secrets,
			Origin:            srcCfg.Origin,
			MaxBodyBytes:      a.Config.Server.MaxBodyBytes,
			ProcessingTimeout: a.Config.Server.ProcessingTimeout,
			ProcessingBudget:  a.Config.Server.ProcessingBudget,
			AllowUnsigned:     wh.AllowUnsigned,
		})
		endpoints = append(endpoints, ep)

		a.Logger.InfowCtx(ctx, "Webhook endpoint registered",
			"source", name,
			"path", ep.Path(),
			"secrets", len(srcCfg.Secrets),
			"accept_rule", srcCfg.AcceptRule != "",
		)
	}

	if len(endpoints) == 0 {
		a.Logger.WarnwCtx(ctx, "No webhook sources enabled")
	}
	return endpoints, nil
}

func (a *App) registerAdmin(ctx context.Context, router gin.IRouter) {
	adminCfg := a.Config.Admin
	if len(adminCfg.APIKeys) == 0 {
		a.Logger.WarnwCtx(ctx, "No admin API keys configured; admin API disabled")
		return
	}

	var mws []gin.HandlerFunc
	if adminCfg.RateLimit.Enabled {
		tb := ratelimit.DefaultTokenBucketConfig()
		if adminCfg.RateLimit.RPS > 0 {
			tb.RPS = adminCfg.RateLimit.RPS
		}
		if adminCfg.RateLimit.Burst > 0 {
			tb.Burst = adminCfg.RateLimit.Burst
		}
		if adminCfg.RateLimit.CleanupInterval > 0 {
			tb.CleanupInterval = time.Duration(adminCfg.RateLimit.CleanupInterval) * time.Second
		}
		if adminCfg.RateLimit.MaxAge > 0 {
			tb.MaxAge = time.Duration(adminCfg.RateLimit.MaxAge) * time.Second
		}
		mws = append(mws, ratelimit.TokenBucketMiddleware(ctx, tb))
	}
	mws = append(mws, middleware.APIKeyMiddleware(adminCfg.APIKeys))

	ingestion.NewAdminHandler(a.dlqStore, a.events, a.Logger).RegisterRoutes(router, mws...)
	a.Logger.InfowCtx(ctx, "Admin API enabled", "operators", len(adminCfg.APIKeys))
}

// Run serves HTTP and runs the background loops until ctx is cancelled, then
// shuts everything down.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		return nil
	})

	if a.worker != nil {
		g.Go(func() error {
			return a.worker.Run(gCtx)
		})
	}

	if a.sweeper != nil {
		g.Go(func() error {
			return a.sweeper.Run(gCtx)
		})
	}

	if a.memLimiter != nil {
		a.memLimiter.StartCleanup(gCtx, a.Config.Webhooks.RateLimit.CleanupInterval)
	}

	runErr := g.Wait()

	if err := a.Shutdown(context.Background()); err != nil {
		if runErr == nil {
			return err
		}
		a.Logger.ErrorwCtx(ctx, "Shutdown after run error failed", "error", err)
	}
	return runErr
}

// Shutdown releases everything Initialize acquired, in reverse order.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx)
}

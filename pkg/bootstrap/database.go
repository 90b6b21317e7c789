package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hookgate/internal/config"
	"hookgate/internal/constants"
	"hookgate/pkg/retry"
)

// DatabaseConnector dials the backing stores. Every dial is retried with
// retry.ConnectPolicy so the service survives starting before its
// dependencies, and every opened client is registered for release on the
// Base it was built from.
type DatabaseConnector struct {
	*Base
	policy retry.Policy
}

func NewDatabaseConnector(base *Base) *DatabaseConnector {
	return &DatabaseConnector{
		Base:   base,
		policy: retry.ConnectPolicy(),
	}
}

func (dc *DatabaseConnector) ping(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, dc.policy, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return fn(pingCtx)
	}, func(attempt int, err error, nextDelay time.Duration) {
		dc.Logger.WarnwCtx(ctx, "Store not reachable yet, retrying",
			"store", name,
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
}

func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	cfg := dc.Config.Database.Redis
	if cfg.Host == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := dc.ping(ctx, "redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() }); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.OnShutdown("redis", func(context.Context) error { return rdb.Close() })
	dc.Logger.InfowCtx(ctx, "Redis connected", "addr", rdb.Options().Addr)
	return rdb, nil
}

// PostgresDSN builds a lib/pq connection URL from cfg.
func PostgresDSN(cfg config.PostgresConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.SSLMode,
	)
}

func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	cfg := dc.Config.Database.Postgres
	if cfg.Host == "" {
		return nil, nil
	}

	db, err := sql.Open("postgres", PostgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := dc.ping(ctx, "postgresql", db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dc.OnShutdown("postgresql", func(context.Context) error { return db.Close() })
	dc.Logger.InfowCtx(ctx, "PostgreSQL connected", "host", cfg.Host, "dbname", cfg.DBName)
	return db, nil
}

func (dc *DatabaseConnector) InitMongoDB(ctx context.Context) (*mongo.Client, error) {
	cfg := dc.Config.Database.MongoDB
	if cfg.URI == "" {
		return nil, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := dc.ping(ctx, "mongodb", func(ctx context.Context) error { return client.Ping(ctx, nil) }); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dc.OnShutdown("mongodb", client.Disconnect)
	dc.Logger.InfowCtx(ctx, "MongoDB connected")
	return client, nil
}

// MongoDatabase returns the configured database on client.
func (dc *DatabaseConnector) MongoDatabase(client *mongo.Client) *mongo.Database {
	name := dc.Config.Database.MongoDB.Database
	if name == "" {
		name = constants.DefaultMongoDBName
	}
	return client.Database(name)
}

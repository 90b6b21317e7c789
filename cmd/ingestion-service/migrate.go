package main

import (
	"context"
	"fmt"

	"hookgate/internal/config"
	"hookgate/internal/constants"
	"hookgate/internal/logger"
	"hookgate/pkg/bootstrap"
	"hookgate/pkg/migrations"
)

type migrationDirection string

const (
	migrateUp   migrationDirection = "up"
	migrateDown migrationDirection = "down"
)

// Migrate brings the configured backend's schema up or down. MongoDB has
// no schema to roll back, only indexes to ensure.
func Migrate(ctx context.Context, cfg *config.Config, log logger.Logger, direction migrationDirection) (err error) {
	base := bootstrap.NewBase(cfg, log)
	dc := bootstrap.NewDatabaseConnector(base)
	defer func() {
		if cerr := base.Shutdown(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	switch cfg.Database.Backend {
	case constants.BackendPostgres, "":
		db, err := dc.InitPostgreSQL(ctx)
		if err != nil {
			return err
		}
		if db == nil {
			return fmt.Errorf("database.postgres.host is required")
		}

		if direction == migrateDown {
			if err := migrations.Down(db); err != nil {
				return err
			}
		} else if err := migrations.Up(db); err != nil {
			return err
		}

		version, dirty, err := migrations.Version(db)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		log.InfowCtx(ctx, "PostgreSQL migrations applied",
			"direction", string(direction),
			"version", version,
			"dirty", dirty,
		)
		return nil

	case constants.BackendMongoDB:
		if direction == migrateDown {
			return fmt.Errorf("migrate down is not supported for mongodb")
		}
		client, err := dc.InitMongoDB(ctx)
		if err != nil {
			return err
		}
		if client == nil {
			return fmt.Errorf("database.mongodb.uri is required")
		}

		if err := migrations.EnsureMongoIndexes(ctx, dc.MongoDatabase(client)); err != nil {
			return err
		}
		log.InfowCtx(ctx, "MongoDB indexes ensured")
		return nil

	default:
		return fmt.Errorf("backend %q has no schema", cfg.Database.Backend)
	}
}

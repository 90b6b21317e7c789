package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "hookgate/cmd/ingestion-service/docs"
	"hookgate/internal/config"
	"hookgate/internal/constants"
	"hookgate/internal/logger"
)

var (
	configFile string
)

// @title           Hookgate Ingestion Service API
// @version         1.0
// @description     Authenticated, idempotent webhook ingestion with a dead letter queue and an operator API

// @BasePath  /
// @schemes   http https

// @securityDefinitions.apikey  ApiKeyAuth
// @in                          header
// @name                        X-API-Key

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.ServiceName,
		Short: "Webhook ingestion service",
		Long:  "Receives signed webhooks, records every delivery in the ledger and dead-letters failures for retry",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(earlyLog logger.Logger) (*config.Config, error) {
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Errorw("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, fmt.Errorf("config file is required")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Errorw("Failed to load config", "error", err)
		return nil, err
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ingestion service",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logger.Bootstrap()

			cfg, err := loadConfig(earlyLog)
			if err != nil {
				return err
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, constants.ServiceName)
			if err != nil {
				earlyLog.Errorw("Failed to init logger", "error", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting ingestion service", "environment", cfg.Environment)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				if shutdownErr := app.Shutdown(context.Background()); shutdownErr != nil {
					log.ErrorwCtx(ctx, "Cleanup after failed start", "error", shutdownErr)
				}
				return err
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ledger and DLQ schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd.Context(), migrateUp)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration (PostgreSQL only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd.Context(), migrateDown)
		},
	})

	return cmd
}

func runMigration(ctx context.Context, direction migrationDirection) error {
	earlyLog := logger.Bootstrap()

	cfg, err := loadConfig(earlyLog)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, constants.ServiceName)
	if err != nil {
		earlyLog.Errorw("Failed to init logger", "error", err)
		return err
	}
	defer log.Sync()

	if ctx == nil {
		ctx = context.Background()
	}
	return Migrate(ctx, cfg, log, direction)
}

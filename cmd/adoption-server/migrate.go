package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"adoption-workflow/internal/common/config"
	"adoption-workflow/internal/common/database"
	"adoption-workflow/internal/common/logger"
	"adoption-workflow/internal/common/retry"
	"adoption-workflow/internal/store"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := newLogger(cfg)
			defer logger.Sync(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pg, err := connectPostgres(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer pg.Close()

			applied, err := store.Migrate(ctx, pg.DB)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("Migrations applied", map[string]interface{}{"versions": applied})
			return nil
		},
	}
}

func newLogger(cfg *config.Config) logger.Logger {
	return logger.New(logger.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  cfg.Logging.Output,
		Service: cfg.App.Name,
	})
}

func connectPostgres(ctx context.Context, cfg *config.Config, log logger.Logger) (*database.PostgresClient, error) {
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return nil, err
	}
	err = retry.Do(ctx, retry.StartupPolicy, func(ctx context.Context) error {
		if err := pg.Ping(ctx); err != nil {
			log.Warn("PostgreSQL not ready, retrying", map[string]interface{}{"error": err.Error()})
			return err
		}
		return nil
	})
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("postgres failed after retries: %w", err)
	}
	log.Info("PostgreSQL connected", map[string]interface{}{"host": cfg.Database.Postgres.Host})
	return pg, nil
}

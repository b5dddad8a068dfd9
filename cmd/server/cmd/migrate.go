package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Togather-Foundation/appkit/internal/app"
	"github.com/Togather-Foundation/appkit/internal/config"
	"github.com/Togather-Foundation/appkit/internal/jobs"
	"github.com/Togather-Foundation/appkit/internal/storage"
)

func newMigrateCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
		Long: `Apply or roll back the schema migrations for DATABASE_URL.

"migrate up" also applies the River job queue migrations when the database
is postgres and jobs are enabled. "migrate down" only touches the
application schema.`,
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), global, func(ctx context.Context, cfg config.Config, store storage.Store, logger zerolog.Logger) error {
				if err := store.MigrateUp(ctx); err != nil {
					return err
				}
				logger.Info().Str("driver", store.Driver()).Msg("schema migrations applied")

				pooled, ok := store.(interface{ Pool() *pgxpool.Pool })
				if !ok || !app.New(cfg, logger).JobsEnabled() {
					return nil
				}
				if err := jobs.Migrate(ctx, pooled.Pool()); err != nil {
					return err
				}
				logger.Info().Msg("job queue migrations applied")
				return nil
			})
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			return withStore(cmd.Context(), global, func(ctx context.Context, _ config.Config, store storage.Store, logger zerolog.Logger) error {
				if err := store.MigrateDown(ctx, steps); err != nil {
					return err
				}
				logger.Info().Int("steps", steps).Str("driver", store.Driver()).Msg("schema migrations rolled back")
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(up, down)
	return cmd
}

// withStore opens the database without running migrations on connect.
func withStore(ctx context.Context, global *globalOptions, fn func(context.Context, config.Config, storage.Store, zerolog.Logger) error) error {
	cfg, err := global.loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := config.NewLogger(cfg.Logging)

	dbCfg := cfg.Database
	dbCfg.MigrateOnStart = false
	store, err := storage.Open(ctx, dbCfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, cfg, store, logger)
}

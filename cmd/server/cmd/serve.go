package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Togather-Foundation/appkit/internal/api"
	"github.com/Togather-Foundation/appkit/internal/app"
	"github.com/Togather-Foundation/appkit/internal/config"
	"github.com/Togather-Foundation/appkit/internal/metrics"
	"github.com/Togather-Foundation/appkit/internal/telemetry"
)

const (
	shutdownTimeout    = 30 * time.Second
	dbCollectInterval  = 15 * time.Second
	initTimeout        = 30 * time.Second
	jobsStopTimeout    = 10 * time.Second
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 90 * time.Second
)

type serveOptions struct {
	host string
	port int
}

func newServeCommand(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server and the background job workers.

The server will:
- Load configuration from environment variables (and --config if given)
- Construct every configured client once; any construction failure aborts startup
- Bootstrap the admin user if ADMIN_* env vars are set
- Run River workers when the database is postgres and jobs are enabled
- Shut down gracefully on SIGINT/SIGTERM

Examples:
  # Start with configuration from env vars
  server serve

  # Start on a specific host and port
  server serve --host 127.0.0.1 --port 9090

  # Start with a config file and debug logging
  server serve --config /etc/appkit/config.yaml --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if opts.host != "" {
				cfg.Server.Host = opts.host
			}
			if opts.port != 0 {
				cfg.Server.Port = opts.port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", "", "server host address (default: 0.0.0.0)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "server port (default: 8080)")
	return cmd
}

// runServer serves until ctx is cancelled, then drains HTTP and the job
// workers.
func runServer(ctx context.Context, cfg config.Config) error {
	logger := config.NewLogger(cfg.Logging)
	logger.Info().Str("version", Version).Str("environment", cfg.Environment).Msg("starting appkit server")

	metrics.Init(Version, GitCommit, BuildDate)

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	container := app.New(cfg, logger)
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := container.Close(cctx); err != nil {
			logger.Error().Err(err).Msg("client shutdown error")
		}
	}()

	initCtx, cancelInit := context.WithTimeout(ctx, initTimeout)
	deps, err := container.Init(initCtx)
	cancelInit()
	if err != nil {
		return err
	}

	if stats := poolStats(deps); stats != nil {
		collector := metrics.NewDBCollector(deps.Store.Driver(), stats)
		go collector.Start(ctx, dbCollectInterval)
		defer collector.Stop()
	}

	router, err := api.NewRouter(deps, buildInfo())
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       serverReadTimeout,
		WriteTimeout:      serverWriteTimeout, // agent generation can be slow
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		logger.Info().Msg("server stopped")
		return nil
	})

	if deps.Jobs != nil {
		g.Go(func() error { return runJobs(gctx, deps, logger) })
	}

	return g.Wait()
}

// runJobs starts the River workers and stops them once ctx is done. Start
// gets a context that outlives ctx so in-flight jobs finish on Stop.
func runJobs(ctx context.Context, deps *app.Deps, logger zerolog.Logger) error {
	if err := deps.Jobs.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("start job workers: %w", err)
	}
	logger.Info().Msg("job workers started")

	<-ctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), jobsStopTimeout)
	defer cancel()
	if err := deps.Jobs.Stop(sctx); err != nil {
		logger.Error().Err(err).Msg("job workers shutdown error")
		return nil
	}
	logger.Info().Msg("job workers stopped")
	return nil
}

// poolStats picks the stats source for the configured database driver.
func poolStats(deps *app.Deps) func() metrics.PoolStats {
	if pool := deps.Pool(); pool != nil {
		return metrics.PgxPoolStats(pool)
	}
	if db, ok := deps.Store.(interface{ DB() *sql.DB }); ok {
		return metrics.SQLDBStats(db.DB())
	}
	return nil
}

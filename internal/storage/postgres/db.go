// Package postgres is the pgx-backed storage driver.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/appkit/internal/config"
	"github.com/Togather-Foundation/appkit/internal/storage"
)

const DriverName = "postgres"

func init() {
	storage.Register(Open, "postgres", "postgresql")
}

// Store wraps a pgx pool. The pool is exposed for components that need the
// native driver, such as the job queue.
type Store struct {
	pool   *pgxpool.Pool
	url    string
	logger zerolog.Logger
}

// Open builds the pool and verifies connectivity.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (storage.Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger = logger.With().Str("component", "storage").Str("driver", DriverName).Logger()
	logger.Info().Int32("max_conns", poolCfg.MaxConns).Msg("database pool ready")
	return &Store{pool: pool, url: cfg.URL, logger: logger}, nil
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool, databaseURL string, logger zerolog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres store: pool is nil")
	}
	return &Store{pool: pool, url: databaseURL, logger: logger}, nil
}

func (s *Store) Driver() string { return DriverName }

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Users() storage.UserStore { return &UserRepository{pool: s.pool} }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) MigrateUp(ctx context.Context) error {
	if err := MigrateUp(s.url); err != nil {
		return err
	}
	s.logger.Info().Msg("database migrations applied")
	return nil
}

func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	return MigrateDown(s.url, steps)
}

func (s *Store) Close() { s.pool.Close() }

// WithTx runs fn inside a transaction, rolling back when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, storage.UserStore) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, &UserRepository{pool: s.pool, tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

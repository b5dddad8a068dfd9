// Package sqlite is the embedded storage driver used for local development
// and tests. It runs on the pure-Go modernc.org/sqlite engine.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/Togather-Foundation/appkit/internal/config"
	"github.com/Togather-Foundation/appkit/internal/storage"
)

const DriverName = "sqlite"

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	storage.Register(Open, "sqlite", "sqlite3", "file")
}

type Store struct {
	db     *sql.DB
	dsn    string
	logger zerolog.Logger
}

// DSN converts a DATABASE_URL into the form accepted by the sqlite driver.
// "sqlite:///abs/path.db", "sqlite://rel.db" and "file:path.db?..." are
// accepted; the foreign_keys and busy_timeout pragmas are always set.
func DSN(databaseURL string) (string, error) {
	var path, query string
	switch {
	case strings.HasPrefix(databaseURL, "file:"):
		path = strings.TrimPrefix(databaseURL, "file:")
	case strings.HasPrefix(databaseURL, "sqlite3://"):
		path = strings.TrimPrefix(databaseURL, "sqlite3://")
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path = strings.TrimPrefix(databaseURL, "sqlite://")
	default:
		return "", fmt.Errorf("not a sqlite url: %q", databaseURL)
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, query = path[:i], path[i+1:]
	}
	if path == "" {
		return "", fmt.Errorf("sqlite url %q has no path", databaseURL)
	}

	params := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)"}
	if query != "" {
		params = append(params, query)
	}
	return "file:" + path + "?" + strings.Join(params, "&"), nil
}

func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (storage.Store, error) {
	dsn, err := DSN(cfg.URL)
	if err != nil {
		return nil, err
	}
	if dir := dbDir(dsn); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; this also keeps ":memory:" databases on a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger = logger.With().Str("component", "storage").Str("driver", DriverName).Logger()
	logger.Info().Str("dsn", dsn).Msg("sqlite database ready")
	return &Store{db: db, dsn: dsn, logger: logger}, nil
}

func dbDir(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == ":memory:" || strings.HasPrefix(path, ":memory:") {
		return ""
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return ""
	}
	return dir
}

func (s *Store) Driver() string { return DriverName }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users() storage.UserStore { return &UserRepository{db: s.db} }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) MigrateUp(ctx context.Context) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	s.logger.Info().Msg("database migrations applied")
	return nil
}

func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("migrate down: steps must be > 0")
	}
	m, err := s.migrator()
	if err != nil {
		return err
	}
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// migrator runs on the store's own connection. The returned Migrate is not
// closed because closing it would close s.db.
func (s *Store) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("init migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, DriverName, driver)
	if err != nil {
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	return m, nil
}

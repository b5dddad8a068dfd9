// Package app owns the external clients the service talks to. Each client is
// constructed at most once through a lazy.Handle; consumers receive the
// constructed values in a Deps struct instead of reaching for globals.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/appkit/internal/ai"
	"github.com/Togather-Foundation/appkit/internal/api/middleware"
	"github.com/Togather-Foundation/appkit/internal/audit"
	"github.com/Togather-Foundation/appkit/internal/auth"
	"github.com/Togather-Foundation/appkit/internal/auth/oauth"
	"github.com/Togather-Foundation/appkit/internal/config"
	"github.com/Togather-Foundation/appkit/internal/email"
	"github.com/Togather-Foundation/appkit/internal/httpclient"
	"github.com/Togather-Foundation/appkit/internal/jobs"
	"github.com/Togather-Foundation/appkit/internal/kms"
	"github.com/Togather-Foundation/appkit/internal/lazy"
	"github.com/Togather-Foundation/appkit/internal/metrics"
	"github.com/Togather-Foundation/appkit/internal/storage"
	"github.com/Togather-Foundation/appkit/internal/storage/redis"
	"github.com/Togather-Foundation/appkit/internal/vectorstore"

	// Database drivers register themselves with storage.
	_ "github.com/Togather-Foundation/appkit/internal/storage/postgres"
	_ "github.com/Togather-Foundation/appkit/internal/storage/sqlite"
)

// Client names, used for handles, metrics labels and health checks.
const (
	ClientDatabase    = "database"
	ClientRedis       = "redis"
	ClientSessions    = "sessions"
	ClientAuth        = "auth"
	ClientOAuth       = "oauth"
	ClientMailer      = "mailer"
	ClientJobs        = "jobs"
	ClientAI          = "ai"
	ClientEmbedder    = "embedder"
	ClientVectorStore = "vectorstore"
	ClientKMS         = "kms"
)

// Deps is the set of constructed clients. Optional clients are nil when their
// feature is not configured.
type Deps struct {
	Config config.Config
	Logger zerolog.Logger
	Audit  *audit.Logger

	Store    storage.Store
	Redis    *goredis.Client
	Sessions auth.SessionStore
	Auth     *auth.Manager
	OAuth    *oauth.Client
	Mailer   *email.Service
	Enqueuer jobs.Enqueuer
	Jobs     *river.Client[pgx.Tx]
	AI       *ai.Client
	Embedder ai.Embedder
	// EmbedderKind is "genai" or "hash".
	EmbedderKind string
	Vectors      *vectorstore.Store
	KMS          *kms.Client
	// LoginThrottle limits password attempts on every login surface.
	LoginThrottle *middleware.LoginThrottle
}

// Pool returns the postgres pool when the database is postgres.
func (d *Deps) Pool() *pgxpool.Pool {
	if p, ok := d.Store.(interface{ Pool() *pgxpool.Pool }); ok {
		return p.Pool()
	}
	return nil
}

type embedder struct {
	*ai.CachedEmbedder
	kind string
}

// Container holds one handle per external client.
type Container struct {
	cfg    config.Config
	logger zerolog.Logger

	mu sync.Mutex

	store    *lazy.Handle[storage.Store]
	redis    *lazy.Handle[*goredis.Client]
	sessions *lazy.Handle[auth.SessionStore]
	auth     *lazy.Handle[*auth.Manager]
	oauth    *lazy.Handle[*oauth.Client]
	mailer   *lazy.Handle[*email.Service]
	jobs     *lazy.Handle[*river.Client[pgx.Tx]]
	ai       *lazy.Handle[*ai.Client]
	embedder *lazy.Handle[embedder]
	vectors  *lazy.Handle[*vectorstore.Store]
	kms      *lazy.Handle[*kms.Client]

	throttle *middleware.LoginThrottle
}

func New(cfg config.Config, logger zerolog.Logger) *Container {
	return &Container{
		cfg:      cfg,
		logger:   logger.With().Str("component", "app").Logger(),
		store:    lazy.NewHandle[storage.Store](ClientDatabase),
		redis:    lazy.NewHandle[*goredis.Client](ClientRedis),
		sessions: lazy.NewHandle[auth.SessionStore](ClientSessions),
		auth:     lazy.NewHandle[*auth.Manager](ClientAuth),
		oauth:    lazy.NewHandle[*oauth.Client](ClientOAuth),
		mailer:   lazy.NewHandle[*email.Service](ClientMailer),
		jobs:     lazy.NewHandle[*river.Client[pgx.Tx]](ClientJobs),
		ai:       lazy.NewHandle[*ai.Client](ClientAI),
		embedder: lazy.NewHandle[embedder](ClientEmbedder),
		vectors:  lazy.NewHandle[*vectorstore.Store](ClientVectorStore),
		kms:      lazy.NewHandle[*kms.Client](ClientKMS),
		throttle: middleware.NewLoginThrottle(cfg.Environment),
	}
}

// initHandle constructs through h and records a metric and log line only
// when this call did the construction.
func initHandle[T any](c *Container, h *lazy.Handle[T], fn func() (T, error)) (T, error) {
	constructed := false
	start := time.Now()
	v, err := h.Init(func() (T, error) {
		v, err := fn()
		if err == nil {
			constructed = true
		}
		return v, err
	})
	if err != nil {
		return v, fmt.Errorf("init %s: %w", h.Name(), err)
	}
	if constructed {
		metrics.ClientInitializations.WithLabelValues(h.Name()).Inc()
		c.logger.Info().Str("client", h.Name()).Dur("took", time.Since(start)).Msg("client initialized")
	}
	return v, nil
}

// JobsEnabled reports whether the river queue runs for this configuration.
func (c *Container) JobsEnabled() bool {
	if !c.cfg.Jobs.Enabled {
		return false
	}
	scheme, err := storage.Scheme(c.cfg.Database.URL)
	return err == nil && (scheme == "postgres" || scheme == "postgresql")
}

// Init constructs every configured client. Calling it again returns Deps
// holding the same instances.
func (c *Container) Init(ctx context.Context) (*Deps, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := c.cfg
	deps := &Deps{Config: cfg, Logger: c.logger, Audit: audit.NewLogger(c.logger), LoginThrottle: c.throttle}
	var err error

	if deps.Store, err = initHandle(c, c.store, func() (storage.Store, error) {
		store, err := storage.Open(ctx, cfg.Database, c.logger)
		if err != nil {
			return nil, err
		}
		if _, err := storage.BootstrapAdmin(ctx, store.Users(), cfg.AdminBootstrap, c.logger); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}); err != nil {
		return nil, err
	}

	if cfg.Redis.URL != "" {
		if deps.Redis, err = initHandle(c, c.redis, func() (*goredis.Client, error) {
			return redis.New(ctx, redis.OptionsFromConfig(cfg.Redis), c.logger)
		}); err != nil {
			return nil, err
		}
	}

	if deps.Sessions, err = initHandle(c, c.sessions, func() (auth.SessionStore, error) {
		if deps.Redis != nil {
			return auth.NewRedisSessionStore(deps.Redis), nil
		}
		return auth.NewMemorySessionStore()
	}); err != nil {
		return nil, err
	}

	if deps.Auth, err = initHandle(c, c.auth, func() (*auth.Manager, error) {
		return auth.NewManager(cfg.Auth, deps.Sessions, c.logger)
	}); err != nil {
		return nil, err
	}

	if cfg.OAuth.Enabled() {
		if deps.OAuth, err = initHandle(c, c.oauth, func() (*oauth.Client, error) {
			return oauth.NewClient(oauth.ConfigFromConfig(cfg), httpclient.New(httpclient.Options{
				Name:       "oauth",
				Retries:    2,
				Backoff:    200 * time.Millisecond,
				MaxBackoff: 2 * time.Second,
				Timeout:    10 * time.Second,
			}, c.logger))
		}); err != nil {
			return nil, err
		}
	}

	if deps.Mailer, err = initHandle(c, c.mailer, func() (*email.Service, error) {
		return email.NewService(cfg.Email, c.logger)
	}); err != nil {
		return nil, err
	}

	deps.Enqueuer = jobs.InlineEnqueuer{Mailer: deps.Mailer}
	if c.JobsEnabled() {
		if deps.Jobs, err = initHandle(c, c.jobs, func() (*river.Client[pgx.Tx], error) {
			return c.newJobClient(ctx, deps)
		}); err != nil {
			return nil, err
		}
		deps.Enqueuer = jobs.NewRiverEnqueuer(deps.Jobs, c.logger)
	}

	if cfg.AI.Enabled() {
		if deps.AI, err = initHandle(c, c.ai, func() (*ai.Client, error) {
			return ai.New(ai.OptionsFromConfig(cfg.AI), ai.AgentsFromConfig(cfg.Agents), c.logger)
		}); err != nil {
			return nil, err
		}
	}

	emb, err := initHandle(c, c.embedder, func() (embedder, error) {
		cached, kind, err := ai.NewEmbedder(ctx, cfg.Embeddings, httpclient.Options{
			Retries:    cfg.AI.Retries,
			Backoff:    time.Duration(cfg.AI.BackoffMs) * time.Millisecond,
			MaxBackoff: time.Duration(cfg.AI.MaxBackoffMs) * time.Millisecond,
			Timeout:    time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
		}, c.logger)
		if err != nil {
			return embedder{}, err
		}
		return embedder{CachedEmbedder: cached, kind: kind}, nil
	})
	if err != nil {
		return nil, err
	}
	deps.Embedder, deps.EmbedderKind = emb.CachedEmbedder, emb.kind

	if deps.Vectors, err = initHandle(c, c.vectors, func() (*vectorstore.Store, error) {
		return vectorstore.New(vectorstore.OptionsFromConfig(cfg.VectorStore), deps.Embedder, c.logger)
	}); err != nil {
		return nil, err
	}

	if cfg.KMS.Enabled() {
		if deps.KMS, err = initHandle(c, c.kms, func() (*kms.Client, error) {
			return kms.New(kms.OptionsFromConfig(cfg.KMS), c.logger)
		}); err != nil {
			return nil, err
		}
	}

	return deps, nil
}

func (c *Container) newJobClient(ctx context.Context, deps *Deps) (*river.Client[pgx.Tx], error) {
	pool := deps.Pool()
	if pool == nil {
		return nil, errors.New("jobs require a postgres database")
	}
	if err := jobs.Migrate(ctx, pool); err != nil {
		return nil, err
	}
	workers := jobs.NewWorkers(deps.Mailer, c.logger)
	handler := jobs.NewFailureHandler(c.logger, func(_ context.Context, job *rivertype.JobRow, err error) {
		deps.Audit.Log(audit.Entry{
			Action:       "job.discarded",
			Actor:        "system",
			ResourceType: job.Kind,
			ResourceID:   strconv.FormatInt(job.ID, 10),
			Status:       audit.StatusFailure,
			Details:      map[string]string{"error": err.Error()},
		})
	})
	hooks := []rivertype.Hook{metrics.NewRiverMetricsHook()}
	logger := jobs.NewSlogLogger(os.Stderr, c.cfg.Logging.Level)
	return jobs.NewClient(pool, workers, logger, handler, hooks, c.cfg.Jobs.MaxWorkers)
}

// Close releases clients that hold connections or background goroutines.
// River must already be stopped by its owner.
func (c *Container) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if e, err := c.embedder.Get(); err == nil {
		e.Close()
	}
	if s, err := c.sessions.Get(); err == nil {
		if m, ok := s.(*auth.MemorySessionStore); ok {
			m.Close()
		}
	}
	if r, err := c.redis.Get(); err == nil {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if s, err := c.store.Get(); err == nil {
		s.Close()
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

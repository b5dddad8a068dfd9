package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
)

const (
	JobKindSendEmail = "send_email"

	QueueMail = "mail"
)

const (
	DefaultMaxAttempts   = 5
	SendEmailMaxAttempts = 8
)

// RetryConfig is an exponential backoff schedule for one job kind.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns BaseDelay doubled per prior attempt, capped at MaxDelay.
// Attempts below one count as the first.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if c.MaxDelay > 0 && delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// RetryPolicy implements river.ClientRetryPolicy with a schedule per kind.
type RetryPolicy struct {
	Default RetryConfig
	ByKind  map[string]RetryConfig
}

func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		Default: RetryConfig{MaxAttempts: DefaultMaxAttempts, BaseDelay: 30 * time.Second, MaxDelay: 30 * time.Minute},
		ByKind: map[string]RetryConfig{
			// Providers throttle in bursts; back off longer before giving up.
			JobKindSendEmail: {MaxAttempts: SendEmailMaxAttempts, BaseDelay: 15 * time.Second, MaxDelay: time.Hour},
		},
	}
}

func (p *RetryPolicy) For(kind string) RetryConfig {
	if c, ok := p.ByKind[kind]; ok {
		return c
	}
	return p.Default
}

func (p *RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	from := time.Now()
	if job.AttemptedAt != nil {
		from = *job.AttemptedAt
	}
	return from.Add(p.For(job.Kind).Delay(job.Attempt))
}

// InsertOptsForKind carries the kind's attempt limit into insert options.
func InsertOptsForKind(kind string) river.InsertOpts {
	return river.InsertOpts{MaxAttempts: NewRetryPolicy().For(kind).MaxAttempts}
}

// NewClientConfig builds the River configuration: a default queue sized by
// maxWorkers and a mail queue with half of it.
func NewClientConfig(workers *river.Workers, logger *slog.Logger, errorHandler river.ErrorHandler, hooks []rivertype.Hook, maxWorkers int) *river.Config {
	maxWorkers = max(1, maxWorkers)
	policy := NewRetryPolicy()
	cfg := &river.Config{
		Workers:     workers,
		RetryPolicy: policy,
		MaxAttempts: policy.Default.MaxAttempts,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
			QueueMail:          {MaxWorkers: max(1, maxWorkers/2)},
		},
		Hooks:        hooks,
		ErrorHandler: errorHandler,
	}
	if logger != nil {
		cfg.Logger = logger
	}
	return cfg
}

func NewClient(pool *pgxpool.Pool, workers *river.Workers, logger *slog.Logger, errorHandler river.ErrorHandler, hooks []rivertype.Hook, maxWorkers int) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), NewClientConfig(workers, logger, errorHandler, hooks, maxWorkers))
}

// Migrate brings River's own tables up to date.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("init river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, &rivermigrate.MigrateOpts{}); err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	return nil
}

// NewSlogLogger returns the JSON logger River writes its internal events to.
// River only accepts *slog.Logger; fields match the zerolog output.
func NewSlogLogger(out io.Writer, level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "trace", "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})).With("component", "river")
}

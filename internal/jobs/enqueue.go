package jobs

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/appkit/internal/email"
)

// Enqueuer hands mail off for delivery. Callers do not know whether delivery
// is queued or synchronous.
type Enqueuer interface {
	EnqueueEmail(ctx context.Context, msg email.Message) error
}

// RiverEnqueuer inserts SendEmailArgs jobs into River.
type RiverEnqueuer struct {
	client *river.Client[pgx.Tx]
	logger zerolog.Logger
}

func NewRiverEnqueuer(client *river.Client[pgx.Tx], logger zerolog.Logger) *RiverEnqueuer {
	return &RiverEnqueuer{client: client, logger: logger.With().Str("component", "jobs").Logger()}
}

func (e *RiverEnqueuer) EnqueueEmail(ctx context.Context, msg email.Message) error {
	res, err := e.client.Insert(ctx, NewSendEmailArgs(msg), nil)
	if err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	e.logger.Debug().Int64("job_id", res.Job.ID).Str("template", msg.Template).Msg("email queued")
	return nil
}

// InlineEnqueuer sends immediately. It is used when no job queue is
// available (sqlite, or JOBS_ENABLED=false).
type InlineEnqueuer struct {
	Mailer Mailer
}

func (e InlineEnqueuer) EnqueueEmail(ctx context.Context, msg email.Message) error {
	if e.Mailer == nil {
		return fmt.Errorf("mailer not configured")
	}
	_, err := e.Mailer.Send(ctx, msg)
	return err
}

package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/appkit/internal/metrics"
)

// DiscardFunc is called once a job has used its last attempt.
type DiscardFunc func(ctx context.Context, job *rivertype.JobRow, err error)

// FailureHandler logs failed attempts. Attempts with retries left log at
// warn; the final one logs at error, counts toward river_jobs_discarded_total
// and is passed to OnDiscard.
type FailureHandler struct {
	Logger    zerolog.Logger
	OnDiscard DiscardFunc
}

func NewFailureHandler(logger zerolog.Logger, onDiscard DiscardFunc) *FailureHandler {
	return &FailureHandler{
		Logger:    logger.With().Str("component", "jobs").Logger(),
		OnDiscard: onDiscard,
	}
}

func (h *FailureHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	h.record(ctx, job, err, "")
	return nil
}

func (h *FailureHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	h.record(ctx, job, fmt.Errorf("panic: %v", panicVal), trace)
	return nil
}

func (h *FailureHandler) record(ctx context.Context, job *rivertype.JobRow, err error, trace string) {
	final := job.MaxAttempts > 0 && job.Attempt >= job.MaxAttempts

	ev := h.Logger.Warn()
	if final {
		ev = h.Logger.Error()
	}
	ev = ev.Err(err).
		Int64("job_id", job.ID).
		Str("kind", job.Kind).
		Int("attempt", job.Attempt).
		Int("max_attempts", job.MaxAttempts)
	if trace != "" {
		ev = ev.Str("trace", trace)
	}
	if !final {
		ev.Msg("job attempt failed")
		return
	}
	ev.Msg("job discarded")

	metrics.RiverJobsDiscarded.WithLabelValues(job.Kind).Inc()
	if h.OnDiscard != nil {
		h.OnDiscard(ctx, job, err)
	}
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/appkit/internal/email"
)

// Mailer is the part of the email service the worker needs.
type Mailer interface {
	Send(ctx context.Context, msg email.Message) (string, error)
}

// SendEmailArgs defines the job for delivering one templated email.
type SendEmailArgs struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
}

func (SendEmailArgs) Kind() string { return JobKindSendEmail }

func (SendEmailArgs) InsertOpts() river.InsertOpts {
	opts := InsertOptsForKind(JobKindSendEmail)
	opts.Queue = QueueMail
	return opts
}

// NewSendEmailArgs converts a message into job arguments.
func NewSendEmailArgs(msg email.Message) SendEmailArgs {
	return SendEmailArgs{To: msg.To, Subject: msg.Subject, Template: msg.Template, Data: msg.Data}
}

func (a SendEmailArgs) Message() email.Message {
	return email.Message{To: a.To, Subject: a.Subject, Template: a.Template, Data: a.Data}
}

// defaultRateLimitSnooze applies when the provider gives no Retry-After.
const defaultRateLimitSnooze = time.Minute

// SendEmailWorker delivers queued mail. Invalid messages are cancelled rather
// than retried; provider rate limits snooze the job.
type SendEmailWorker struct {
	river.WorkerDefaults[SendEmailArgs]
	Mailer Mailer
	Logger zerolog.Logger
}

func (SendEmailWorker) Kind() string { return JobKindSendEmail }

func (w SendEmailWorker) Work(ctx context.Context, job *river.Job[SendEmailArgs]) error {
	if w.Mailer == nil {
		return fmt.Errorf("mailer not configured")
	}
	if job == nil {
		return fmt.Errorf("send email job missing")
	}

	id, err := w.Mailer.Send(ctx, job.Args.Message())
	if err != nil {
		switch action, wait := classifyFailure(err); action {
		case failCancel:
			return river.JobCancel(err)
		case failSnooze:
			w.Logger.Warn().Int64("job_id", job.ID).Dur("snooze", wait).Msg("email provider rate limited; snoozing")
			return river.JobSnooze(wait)
		default:
			return err
		}
	}

	w.Logger.Debug().
		Int64("job_id", job.ID).
		Str("email_id", id).
		Str("template", job.Args.Template).
		Msg("queued email delivered")
	return nil
}

type failureAction int

const (
	failRetry failureAction = iota
	failCancel
	failSnooze
)

// classifyFailure decides what River should do with a failed delivery.
func classifyFailure(err error) (failureAction, time.Duration) {
	if errors.Is(err, email.ErrInvalidAddress) {
		return failCancel, 0
	}
	var rateLimitErr *resend.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return failSnooze, snoozeFor(rateLimitErr.RetryAfter)
	}
	return failRetry, 0
}

func snoozeFor(retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultRateLimitSnooze
}

// NewWorkers registers every worker this service runs.
func NewWorkers(mailer Mailer, logger zerolog.Logger) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker[SendEmailArgs](workers, SendEmailWorker{
		Mailer: mailer,
		Logger: logger.With().Str("component", "jobs").Logger(),
	})
	return workers
}

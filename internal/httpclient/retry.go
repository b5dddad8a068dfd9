// Package httpclient builds the outbound HTTP clients used by the external
// service wrappers. Retry and backoff settings from configuration are applied
// here so each wrapper retries in exactly one place.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/appkit/internal/metrics"
)

// Options are the pass-through retry settings shared by the wrappers.
type Options struct {
	Name       string
	Retries    int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Timeout    time.Duration
}

// StatusError describes a non-success upstream status.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream returned %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("upstream returned %s", e.Status)
}

// CheckStatus returns a *StatusError for non-2xx responses, consuming and
// closing the body. Successful responses are left untouched.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}

// New returns an *http.Client whose transport retries according to opts.
func New(opts Options, logger zerolog.Logger) *http.Client {
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: NewRetryTransport(http.DefaultTransport, opts, logger),
	}
}

// RetryTransport retries network errors, 429 and 5xx responses with
// exponential backoff. The final attempt's response is returned unchanged so
// callers can read the upstream error body.
type RetryTransport struct {
	base   http.RoundTripper
	opts   Options
	logger zerolog.Logger
}

func NewRetryTransport(base http.RoundTripper, opts Options, logger zerolog.Logger) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &RetryTransport{
		base:   base,
		opts:   opts,
		logger: logger.With().Str("component", "httpclient").Str("client", opts.Name).Logger(),
	}
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// A body that cannot be rewound gets exactly one attempt.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return t.base.RoundTrip(req)
	}

	tries := t.opts.Retries + 1
	attempt := 0
	start := time.Now()

	operation := func() (*http.Response, error) {
		attempt++
		r := req
		if attempt > 1 {
			r = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, backoff.Permanent(fmt.Errorf("rewind request body: %w", err))
				}
				r.Body = body
			}
		}

		resp, err := t.base.RoundTrip(r)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if !Retryable(resp.StatusCode) || attempt >= tries {
			return resp, nil
		}

		wait := retryAfter(resp.Header.Get("Retry-After"))
		drain(resp)

		statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		if wait > 0 {
			if t.opts.MaxBackoff > 0 && wait > t.opts.MaxBackoff {
				wait = t.opts.MaxBackoff
			}
			return nil, errors.Join(statusErr, &backoff.RetryAfterError{Duration: wait})
		}
		return nil, statusErr
	}

	resp, err := backoff.Retry(req.Context(), operation,
		backoff.WithBackOff(t.newBackOff()),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.UpstreamRetries.WithLabelValues(t.opts.Name).Inc()
			t.logger.Debug().
				Err(err).
				Str("method", req.Method).
				Str("host", req.URL.Host).
				Int("attempt", attempt).
				Dur("retry_in", next).
				Msg("retrying upstream request")
		}),
	)

	outcome := "success"
	if err != nil || resp.StatusCode >= 400 {
		outcome = "error"
	}
	metrics.UpstreamRequestDuration.WithLabelValues(t.opts.Name, outcome).Observe(time.Since(start).Seconds())
	return resp, err
}

func (t *RetryTransport) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.opts.Backoff
	b.MaxInterval = t.opts.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}

// Retryable reports whether a response status is worth another attempt.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// WithTimeout derives a context bounded by d when d is positive.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

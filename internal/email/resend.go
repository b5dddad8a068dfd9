package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
)

type resendProvider struct {
	client *resend.Client
	logger zerolog.Logger
}

func newResendProvider(apiKey string, httpClient *http.Client, logger zerolog.Logger) *resendProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &resendProvider{
		client: resend.NewCustomClient(httpClient, apiKey),
		logger: logger,
	}
}

func (p *resendProvider) name() string { return "resend" }

// send delivers through the Resend API. Rate limit errors are returned with
// their window metadata and are not retried here.
func (p *resendProvider) send(ctx context.Context, msg rendered) (string, error) {
	params := &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	}

	sent, err := p.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		var rateLimitErr *resend.RateLimitError
		if errors.As(err, &rateLimitErr) {
			p.logger.Warn().
				Str("limit", rateLimitErr.Limit).
				Str("remaining", rateLimitErr.Remaining).
				Str("reset", rateLimitErr.Reset).
				Msg("resend rate limit exceeded")
			return "", fmt.Errorf("email rate limit exceeded (limit: %s, resets in: %s seconds): %w",
				rateLimitErr.Limit, rateLimitErr.Reset, err)
		}
		return "", fmt.Errorf("resend API error: %w", err)
	}
	return sent.Id, nil
}

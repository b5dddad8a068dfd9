// Package ai wraps the Anthropic Messages API behind named agents, and the
// embedding providers used by the vector store.
package ai

import (
	"time"

	"github.com/Togather-Foundation/appkit/internal/config"
	"github.com/Togather-Foundation/appkit/internal/httpclient"
)

// Options is the AI client's configuration record. Retry settings are passed
// through to the outbound transport unchanged.
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int64
	Retries    int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Timeout    time.Duration
}

func OptionsFromConfig(cfg config.AIConfig) Options {
	return Options{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		MaxTokens:  cfg.MaxTokens,
		Retries:    cfg.Retries,
		Backoff:    time.Duration(cfg.BackoffMs) * time.Millisecond,
		MaxBackoff: time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
		Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

func (o Options) transport() httpclient.Options {
	return httpclient.Options{
		Name:       "anthropic",
		Retries:    o.Retries,
		Backoff:    o.Backoff,
		MaxBackoff: o.MaxBackoff,
		Timeout:    o.Timeout,
	}
}

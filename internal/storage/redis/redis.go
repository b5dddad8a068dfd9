// Package redis opens the shared Redis client used for sessions.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/appkit/internal/config"
)

// Options mirrors the REDIS_URL configuration.
type Options struct {
	URL string
}

func OptionsFromConfig(cfg config.RedisConfig) Options {
	return Options{URL: cfg.URL}
}

// New parses the URL and verifies the server answers PING.
func New(ctx context.Context, opts Options, logger zerolog.Logger) (*goredis.Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("REDIS_URL: %w", config.ErrMissingRequired)
	}
	ropts, err := goredis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if ropts.DialTimeout == 0 {
		ropts.DialTimeout = 5 * time.Second
	}
	if ropts.ReadTimeout == 0 {
		ropts.ReadTimeout = 3 * time.Second
	}
	if ropts.WriteTimeout == 0 {
		ropts.WriteTimeout = 3 * time.Second
	}

	client := goredis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("component", "redis").
		Str("addr", ropts.Addr).
		Int("db", ropts.DB).
		Msg("connected to redis")
	return client, nil
}

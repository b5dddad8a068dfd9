package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/appkit/internal/auth"
	"github.com/Togather-Foundation/appkit/internal/config"
)

// BootstrapAdmin creates the configured admin account unless a user with the
// same username or email already exists. It reports whether a row was created.
func BootstrapAdmin(ctx context.Context, users UserStore, cfg config.AdminBootstrapConfig, logger zerolog.Logger) (bool, error) {
	if cfg.Username == "" || cfg.Password == "" {
		logger.Debug().Msg("admin bootstrap not configured; skipping")
		return false, nil
	}

	exists, err := users.Exists(ctx, cfg.Username, cfg.Email)
	if err != nil {
		return false, fmt.Errorf("check admin user: %w", err)
	}
	if exists {
		logger.Debug().Str("username", cfg.Username).Msg("admin user already present")
		return false, nil
	}

	hash, err := auth.HashPassword(cfg.Password)
	if err != nil {
		return false, fmt.Errorf("hash admin password: %w", err)
	}
	created, err := users.Create(ctx, User{
		Username:     cfg.Username,
		Email:        cfg.Email,
		PasswordHash: hash,
		Role:         string(auth.RoleAdmin),
		IsActive:     true,
	})
	if err != nil {
		return false, fmt.Errorf("create admin user: %w", err)
	}

	logger.Info().Str("user_id", created.ID).Str("username", created.Username).Msg("admin user bootstrapped")
	return true, nil
}

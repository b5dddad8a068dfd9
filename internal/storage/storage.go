// Package storage defines the database bootstrap surface shared by the
// postgres and sqlite drivers. Drivers register themselves by URL scheme and
// are selected by Open.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/appkit/internal/config"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("already exists")
	ErrUnknownDriver = errors.New("unknown database driver")
)

// User is the bootstrap account row used by password login.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
}

type UserStore interface {
	// FindByLogin matches login against username or email.
	FindByLogin(ctx context.Context, login string) (*User, error)
	// FindByEmail matches email case-insensitively and never the username.
	FindByEmail(ctx context.Context, email string) (*User, error)
	// FindByIdentity resolves an external provider subject to its linked user.
	FindByIdentity(ctx context.Context, provider, subject string) (*User, error)
	// LinkIdentity records that provider's subject belongs to userID. A
	// subject already linked, or a user already linked for that provider,
	// yields ErrConflict.
	LinkIdentity(ctx context.Context, userID, provider, subject string) error
	Create(ctx context.Context, user User) (*User, error)
	Exists(ctx context.Context, username, email string) (bool, error)
}

// Store is an open database.
type Store interface {
	Driver() string
	Users() UserStore
	Ping(ctx context.Context) error
	MigrateUp(ctx context.Context) error
	MigrateDown(ctx context.Context, steps int) error
	Close()
}

// Opener connects to the database named by a URL of a registered scheme.
type Opener func(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (Store, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]Opener{}
)

// Register makes a driver available for the given URL schemes. It panics on
// a scheme registered twice.
func Register(opener Opener, schemes ...string) {
	driversMu.Lock()
	defer driversMu.Unlock()
	for _, s := range schemes {
		if _, dup := drivers[s]; dup {
			panic("storage: Register called twice for scheme " + s)
		}
		drivers[s] = opener
	}
}

// Schemes lists the registered URL schemes.
func Schemes() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	out := make([]string, 0, len(drivers))
	for s := range drivers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Scheme extracts the driver scheme from a database URL. "file:" URLs are
// treated as sqlite.
func Scheme(databaseURL string) (string, error) {
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL: %w", config.ErrMissingRequired)
	}
	if strings.HasPrefix(databaseURL, "file:") {
		return "file", nil
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("DATABASE_URL has no scheme: %w", ErrUnknownDriver)
	}
	return strings.ToLower(u.Scheme), nil
}

// Open connects using the driver registered for the URL scheme and, when
// MigrateOnStart is set, applies pending migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (Store, error) {
	scheme, err := Scheme(cfg.URL)
	if err != nil {
		return nil, err
	}
	driversMu.RLock()
	open, ok := drivers[scheme]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownDriver, scheme, strings.Join(Schemes(), ", "))
	}

	store, err := open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		if err := store.MigrateUp(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

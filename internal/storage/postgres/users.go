package postgres

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/Togather-Foundation/appkit/internal/metrics"
	"github.com/Togather-Foundation/appkit/internal/storage"
)

type UserRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func (r *UserRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

const selectUser = `
SELECT u.id, u.username, u.email, u.password_hash, u.role, u.is_active, u.created_at
  FROM users u`

func (r *UserRepository) FindByLogin(ctx context.Context, login string) (_ *storage.User, err error) {
	defer func(start time.Time) { metrics.RecordQuery("users_find_by_login", start, err) }(time.Now())
	login = strings.TrimSpace(login)
	if login == "" {
		return nil, storage.ErrNotFound
	}
	return scanUser(r.queryer().QueryRow(ctx, selectUser+`
 WHERE u.username = $1 OR lower(u.email) = lower($1)
 LIMIT 1`, login))
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (_ *storage.User, err error) {
	defer func(start time.Time) { metrics.RecordQuery("users_find_by_email", start, err) }(time.Now())
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, storage.ErrNotFound
	}
	return scanUser(r.queryer().QueryRow(ctx, selectUser+`
 WHERE lower(u.email) = lower($1)`, email))
}

func (r *UserRepository) FindByIdentity(ctx context.Context, provider, subject string) (_ *storage.User, err error) {
	defer func(start time.Time) { metrics.RecordQuery("users_find_by_identity", start, err) }(time.Now())
	if provider == "" || subject == "" {
		return nil, storage.ErrNotFound
	}
	return scanUser(r.queryer().QueryRow(ctx, selectUser+`
  JOIN user_identities i ON i.user_id = u.id
 WHERE i.provider = $1 AND i.subject = $2`, provider, subject))
}

func (r *UserRepository) LinkIdentity(ctx context.Context, userID, provider, subject string) (err error) {
	defer func(start time.Time) { metrics.RecordQuery("users_link_identity", start, err) }(time.Now())
	_, err = r.queryer().Exec(ctx, `
INSERT INTO user_identities (provider, subject, user_id)
VALUES ($1, $2, $3)
`, provider, subject, userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return fmt.Errorf("identity %s/%s: %w", provider, subject, storage.ErrConflict)
			case "23503":
				return fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
			}
		}
		return fmt.Errorf("link identity: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*storage.User, error) {
	var (
		u     storage.User
		email *string
	)
	if err := row.Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.Email = derefString(email)
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, user storage.User) (_ *storage.User, err error) {
	defer func(start time.Time) { metrics.RecordQuery("users_create", start, err) }(time.Now())
	if user.ID == "" {
		user.ID = ulid.MustNew(ulid.Now(), rand.Reader).String()
	}
	if user.Role == "" {
		user.Role = "user"
	}
	var email *string
	if user.Email != "" {
		email = &user.Email
	}

	err = r.queryer().QueryRow(ctx, `
INSERT INTO users (id, username, email, password_hash, role, is_active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at
`, user.ID, user.Username, email, user.PasswordHash, user.Role, user.IsActive).Scan(&user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("user %q: %w", user.Username, storage.ErrConflict)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	return &user, nil
}

func (r *UserRepository) Exists(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := r.queryer().QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM users
   WHERE username = $1 OR ($2 <> '' AND lower(email) = lower($2))
)`, username, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return exists, nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

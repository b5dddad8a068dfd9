package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Togather-Foundation/appkit/internal/storage"
)

type UserRepository struct {
	db *sql.DB
}

const selectUser = `
SELECT u.id, u.username, u.email, u.password_hash, u.role, u.is_active, u.created_at
  FROM users u`

func (r *UserRepository) FindByLogin(ctx context.Context, login string) (*storage.User, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return nil, storage.ErrNotFound
	}
	return scanUser(r.db.QueryRowContext(ctx, selectUser+`
 WHERE u.username = ?1 OR lower(u.email) = lower(?1)
 LIMIT 1`, login))
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*storage.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, storage.ErrNotFound
	}
	return scanUser(r.db.QueryRowContext(ctx, selectUser+`
 WHERE lower(u.email) = lower(?)`, email))
}

func (r *UserRepository) FindByIdentity(ctx context.Context, provider, subject string) (*storage.User, error) {
	if provider == "" || subject == "" {
		return nil, storage.ErrNotFound
	}
	return scanUser(r.db.QueryRowContext(ctx, selectUser+`
  JOIN user_identities i ON i.user_id = u.id
 WHERE i.provider = ? AND i.subject = ?`, provider, subject))
}

func (r *UserRepository) LinkIdentity(ctx context.Context, userID, provider, subject string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO user_identities (provider, subject, user_id, created_at)
VALUES (?, ?, ?, ?)
`, provider, subject, userID, time.Now().UnixMilli())
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("identity %s/%s: %w", provider, subject, storage.ErrConflict)
		}
		if hasCode(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY) {
			return fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
		}
		return fmt.Errorf("link identity: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (*storage.User, error) {
	var (
		u       storage.User
		email   sql.NullString
		created int64
	)
	if err := row.Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &u.Role, &u.IsActive, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.Email = email.String
	u.CreatedAt = time.UnixMilli(created).UTC()
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, user storage.User) (*storage.User, error) {
	if user.ID == "" {
		user.ID = ulid.MustNew(ulid.Now(), rand.Reader).String()
	}
	if user.Role == "" {
		user.Role = "user"
	}
	user.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	email := sql.NullString{String: user.Email, Valid: user.Email != ""}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO users (id, username, email, password_hash, role, is_active, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, user.ID, user.Username, email, user.PasswordHash, user.Role, user.IsActive, user.CreatedAt.UnixMilli())
	if err != nil {
		if isConstraint(err) {
			return nil, fmt.Errorf("user %q: %w", user.Username, storage.ErrConflict)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) Exists(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
SELECT EXISTS (
  SELECT 1 FROM users
   WHERE username = ?1 OR (?2 <> '' AND lower(email) = lower(?2))
)`, username, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return exists, nil
}

func isConstraint(err error) bool {
	return hasCode(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE) || hasCode(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY)
}

func hasCode(err error, code int) bool {
	var sqlErr *msqlite.Error
	return errors.As(err, &sqlErr) && sqlErr.Code() == code
}

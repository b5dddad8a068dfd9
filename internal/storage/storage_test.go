package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Togather-Foundation/appkit/internal/auth"
	"github.com/Togather-Foundation/appkit/internal/config"
)

func TestScheme(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost:5432/app": "postgres",
		"postgresql://localhost/app":        "postgresql",
		"sqlite:///tmp/app.db":              "sqlite",
		"file:app.db?mode=memory":           "file",
		"SQLITE://x.db":                     "sqlite",
	}
	for in, want := range tests {
		got, err := Scheme(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := Scheme("")
	assert.ErrorIs(t, err, config.ErrMissingRequired)
	_, err = Scheme("just-a-path.db")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestOpen_UnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{URL: "mysql://localhost/app"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

type memUsers struct {
	rows      []User
	existsErr error
}

func (m *memUsers) FindByLogin(_ context.Context, login string) (*User, error) {
	for i := range m.rows {
		if m.rows[i].Username == login || m.rows[i].Email == login {
			return &m.rows[i], nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	for i := range m.rows {
		if email != "" && m.rows[i].Email == email {
			return &m.rows[i], nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindByIdentity(context.Context, string, string) (*User, error) {
	return nil, ErrNotFound
}

func (m *memUsers) LinkIdentity(context.Context, string, string, string) error {
	return nil
}

func (m *memUsers) Create(_ context.Context, u User) (*User, error) {
	u.ID = "u1"
	m.rows = append(m.rows, u)
	return &u, nil
}

func (m *memUsers) Exists(_ context.Context, username, email string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	for _, r := range m.rows {
		if r.Username == username || (email != "" && r.Email == email) {
			return true, nil
		}
	}
	return false, nil
}

func TestBootstrapAdmin_HashesPassword(t *testing.T) {
	users := &memUsers{}
	created, err := BootstrapAdmin(context.Background(), users, config.AdminBootstrapConfig{
		Username: "admin", Password: "s3cret-pass", Email: "admin@example.com",
	}, zerolog.Nop())
	require.NoError(t, err)
	require.True(t, created)

	require.Len(t, users.rows, 1)
	row := users.rows[0]
	assert.Equal(t, "admin", row.Role)
	assert.True(t, row.IsActive)
	assert.NoError(t, auth.CheckPassword(row.PasswordHash, "s3cret-pass"))
}

func TestBootstrapAdmin_ExistsError(t *testing.T) {
	boom := errors.New("db down")
	_, err := BootstrapAdmin(context.Background(), &memUsers{existsErr: boom}, config.AdminBootstrapConfig{
		Username: "admin", Password: "pw",
	}, zerolog.Nop())
	assert.ErrorIs(t, err, boom)
}

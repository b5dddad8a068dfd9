package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Togather-Foundation/appkit/internal/api/middleware"
	"github.com/Togather-Foundation/appkit/internal/audit"
	"github.com/Togather-Foundation/appkit/internal/auth"
	"github.com/Togather-Foundation/appkit/internal/config"
	"github.com/Togather-Foundation/appkit/internal/storage"
)

// memUsers is an in-memory storage.UserStore.
type memUsers struct {
	mu         sync.Mutex
	users      []storage.User
	identities map[string]string
}

func (m *memUsers) FindByLogin(_ context.Context, login string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == login || (u.Email != "" && u.Email == login) {
			return &u, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if email != "" && strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memUsers) FindByIdentity(_ context.Context, provider, subject string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.identities[provider+"|"+subject]
	if !ok {
		return nil, storage.ErrNotFound
	}
	for _, u := range m.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memUsers) LinkIdentity(_ context.Context, userID, provider, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identities == nil {
		m.identities = map[string]string{}
	}
	key := provider + "|" + subject
	if _, ok := m.identities[key]; ok {
		return storage.ErrConflict
	}
	for k, id := range m.identities {
		if id == userID && strings.HasPrefix(k, provider+"|") {
			return storage.ErrConflict
		}
	}
	m.identities[key] = userID
	return nil
}

func (m *memUsers) Create(_ context.Context, user storage.User) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username || (user.Email != "" && strings.EqualFold(u.Email, user.Email)) {
			return nil, storage.ErrConflict
		}
	}
	user.ID = "user-" + user.Username
	m.users = append(m.users, user)
	return &user, nil
}

func (m *memUsers) Exists(ctx context.Context, username, email string) (bool, error) {
	if _, err := m.FindByLogin(ctx, username); err == nil {
		return true, nil
	}
	_, err := m.FindByLogin(ctx, email)
	return err == nil, nil
}

func newUsers(t *testing.T) *memUsers {
	t.Helper()
	hash, err := auth.HashPassword("s3cret-password")
	require.NoError(t, err)
	return &memUsers{users: []storage.User{
		{ID: "u1", Username: "alice", Email: "alice@example.com", PasswordHash: hash, Role: "admin", IsActive: true},
		{ID: "u2", Username: "bob", Email: "bob@example.com", PasswordHash: hash, Role: "user", IsActive: false},
		{ID: "u3", Username: "carol", Email: "carol@example.com", Role: "user", IsActive: true},
	}}
}

func newManager(t *testing.T) *auth.Manager {
	t.Helper()
	cfg := config.Defaults().Auth
	cfg.JWTSecret = "12345678901234567890123456789012"
	store, err := auth.NewMemorySessionStore()
	require.NoError(t, err)
	t.Cleanup(store.Close)
	m, err := auth.NewManager(cfg, store, zerolog.Nop())
	require.NoError(t, err)
	return m
}

func TestAuthenticate(t *testing.T) {
	users := newUsers(t)
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	tests := []struct {
		name     string
		login    string
		password string
		wantErr  error
	}{
		{"by username", "alice", "s3cret-password", nil},
		{"by email", "alice@example.com", "s3cret-password", nil},
		{"wrong password", "alice", "nope", auth.ErrInvalidCredentials},
		{"unknown user", "mallory", "s3cret-password", auth.ErrInvalidCredentials},
		{"inactive user", "bob", "s3cret-password", auth.ErrInvalidCredentials},
		{"no password set", "carol", "", auth.ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := Authenticate(req, users, tt.login, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, user)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u1", user.ID)
		})
	}
}

func TestAuthHandler_LoginAndMe(t *testing.T) {
	m := newManager(t)
	h := &AuthHandler{Users: newUsers(t), Auth: m, Env: "test"}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"login":"alice","password":"s3cret-password"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.NotEmpty(t, resp.ExpiresAt)
	assert.Equal(t, "alice", resp.User.Username)
	assert.Equal(t, "admin", resp.User.Role)
	assert.NotEmpty(t, rec.Result().Cookies(), "session cookie set for browsers")

	meReq := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	meReq.Header.Set("Authorization", "Bearer "+resp.Token)
	meRec := httptest.NewRecorder()
	middleware.RequireAuth(m, "test")(http.HandlerFunc(h.Me)).ServeHTTP(meRec, meReq)

	require.Equal(t, http.StatusOK, meRec.Code)
	assert.Contains(t, meRec.Body.String(), `"id":"u1"`)
	assert.Contains(t, meRec.Body.String(), `"expires_at"`)
}

func TestAuthHandler_LoginErrors(t *testing.T) {
	h := &AuthHandler{Users: newUsers(t), Auth: newManager(t), Env: "test"}

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantType string
	}{
		{"invalid credentials", `{"login":"alice","password":"nope"}`, http.StatusUnauthorized, "unauthorized"},
		{"missing password", `{"login":"alice"}`, http.StatusUnprocessableEntity, "validation-error"},
		{"unknown field", `{"login":"alice","password":"x","admin":true}`, http.StatusBadRequest, "bad-request"},
		{"empty body", ``, http.StatusBadRequest, "bad-request"},
		{"malformed", `{"login":`, http.StatusBadRequest, "bad-request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Login(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), tt.wantType)
		})
	}
}

func TestAuthHandler_MeWithoutClaims(t *testing.T) {
	h := &AuthHandler{Env: "test"}
	rec := httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandler_LogoutWithoutSession(t *testing.T) {
	h := &AuthHandler{Auth: newManager(t), Env: "test"}
	rec := httptest.NewRecorder()
	h.Logout(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthHandler_LoginIsAudited(t *testing.T) {
	var buf bytes.Buffer
	h := &AuthHandler{Users: newUsers(t), Auth: newManager(t), Audit: audit.NewLogger(zerolog.New(&buf)), Env: "test"}

	for _, password := range []string{"nope", "s3cret-password"} {
		body := `{"login":"alice","password":"` + password + `"}`
		h.Login(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body)))
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"status":"failure"`)
	assert.Contains(t, lines[0], `"actor":"alice"`)
	assert.Contains(t, lines[1], `"status":"success"`)
	assert.Contains(t, lines[1], `"action":"auth.login"`)
	assert.NotContains(t, buf.String(), "s3cret-password")
}

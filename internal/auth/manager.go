package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/appkit/internal/config"
)

// Issuer is stamped on every session token.
const Issuer = "appkit"

// User is the identity the manager issues sessions for.
type User struct {
	ID       string
	Username string
	Email    string
	Role     string
}

// Manager ties the JWT signer, the session store and the cookie settings
// together. It is the auth handle exposed to routes and middleware.
type Manager struct {
	tokens  tokenSigner
	expiry  time.Duration
	store   SessionStore
	cookies CookieConfig
	keys    Keys
	logger  zerolog.Logger
}

// NewManager fails when the JWT secret is missing or too short.
func NewManager(cfg config.AuthConfig, store SessionStore, logger zerolog.Logger) (*Manager, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 bytes: %w", config.ErrMissingRequired)
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	keys, err := DeriveKeys([]byte(cfg.JWTSecret))
	if err != nil {
		return nil, err
	}
	expiry := cfg.JWTExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	cookies := CookieConfigFromConfig(cfg)
	cookies.MaxAge = expiry

	return &Manager{
		tokens:  tokenSigner{key: keys.SessionJWT, issuer: Issuer},
		expiry:  expiry,
		store:   store,
		cookies: cookies,
		keys:    keys,
		logger:  logger.With().Str("component", "auth").Logger(),
	}, nil
}

func (m *Manager) Cookies() CookieConfig { return m.cookies }

// CSRFKey is the key gorilla/csrf signs tokens with.
func (m *Manager) CSRFKey() []byte { return m.keys.CSRF }

// Login creates a session for user, sets the session cookie on w when it is
// non-nil, and returns the signed token.
func (m *Manager) Login(ctx context.Context, w http.ResponseWriter, user User) (string, *Session, error) {
	if user.ID == "" {
		return "", nil, ErrInvalidCredentials
	}
	now := time.Now()
	sess := Session{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		UserID:    user.ID,
		Username:  user.Username,
		Role:      string(NormalizeRole(user.Role)),
		CreatedAt: now,
		ExpiresAt: now.Add(m.expiry),
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return "", nil, err
	}

	token, err := m.tokens.Sign(sess)
	if err != nil {
		_ = m.store.Delete(ctx, sess.ID)
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}
	if w != nil {
		http.SetCookie(w, m.cookies.SessionCookie(token))
	}

	m.logger.Info().Str("user_id", user.ID).Str("session_id", sess.ID).Msg("session created")
	return token, &sess, nil
}

// Authenticate resolves the request's session from the Authorization header
// or, failing that, the session cookie. Revoked sessions are rejected even
// when the token itself is still valid.
func (m *Manager) Authenticate(r *http.Request) (*Claims, error) {
	token := m.tokenFromRequest(r)
	claims, err := m.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	sess, err := m.store.Get(r.Context(), claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if sess.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Logout revokes the request's session, if any, and clears the cookie.
func (m *Manager) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if w != nil {
		http.SetCookie(w, m.cookies.Expire(m.cookies.SessionName))
	}
	claims, err := m.tokens.Verify(m.tokenFromRequest(r))
	if err != nil {
		return nil
	}
	if err := m.store.Delete(ctx, claims.SessionID); err != nil {
		return err
	}
	m.logger.Info().Str("user_id", claims.Subject).Str("session_id", claims.SessionID).Msg("session revoked")
	return nil
}

func (m *Manager) tokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if token, err := TokenFromHeader(header); err == nil {
			return token
		}
	}
	if c, err := r.Cookie(m.cookies.SessionName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are carried by session tokens. SessionID references the server-side
// session so logout can revoke a token before it expires.
type Claims struct {
	Role      string `json:"role"`
	Username  string `json:"username,omitempty"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// tokenLeeway absorbs clock skew between replicas.
const tokenLeeway = 30 * time.Second

// tokenSigner turns sessions into HS256 tokens and back.
type tokenSigner struct {
	key    []byte
	issuer string
}

// Sign issues a token that expires with the session.
func (s tokenSigner) Sign(sess Session) (string, error) {
	if sess.UserID == "" || sess.Role == "" || sess.ID == "" || sess.ExpiresAt.IsZero() {
		return "", ErrInvalidToken
	}
	issued := sess.CreatedAt
	if issued.IsZero() {
		issued = time.Now()
	}
	claims := Claims{
		Role:      sess.Role,
		Username:  sess.Username,
		SessionID: sess.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify checks signature, algorithm, issuer and expiry. Every failure maps
// to ErrInvalidToken so callers cannot tell them apart.
func (s tokenSigner) Verify(token string) (*Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(tokenLeeway),
	)
	if err != nil || claims.SessionID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenFromHeader extracts the token from "Bearer <token>".
func TokenFromHeader(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

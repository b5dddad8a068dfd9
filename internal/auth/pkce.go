package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
)

var ErrInvalidFlow = errors.New("invalid or expired oauth flow")

// PKCE is a verifier/challenge pair (RFC 7636, S256 only).
type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

func NewPKCE() (PKCE, error) {
	verifier, err := randomToken(32)
	if err != nil {
		return PKCE{}, err
	}
	return PKCE{
		Verifier:  verifier,
		Challenge: ChallengeS256(verifier),
		Method:    "S256",
	}, nil
}

func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// FlowState is what survives the redirect to the provider and back.
type FlowState struct {
	State     string
	Verifier  string
	ReturnTo  string
	CreatedAt time.Time
}

// FlowCookies stores FlowState in an encrypted, signed cookie.
type FlowCookies struct {
	codec   *securecookie.SecureCookie
	cookies CookieConfig
}

func NewFlowCookies(keys Keys, cookies CookieConfig) *FlowCookies {
	codec := securecookie.New(keys.CookieHash, keys.CookieBlock)
	codec.MaxAge(int(FlowMaxAge.Seconds()))
	return &FlowCookies{codec: codec, cookies: cookies}
}

// Flow returns the PKCE flow cookie helper bound to the manager's keys.
func (m *Manager) Flow() *FlowCookies {
	return NewFlowCookies(m.keys, m.cookies)
}

// Begin creates a new state and PKCE pair and writes the flow cookie.
func (f *FlowCookies) Begin(w http.ResponseWriter, returnTo string) (FlowState, PKCE, error) {
	pkce, err := NewPKCE()
	if err != nil {
		return FlowState{}, PKCE{}, err
	}
	state, err := randomToken(16)
	if err != nil {
		return FlowState{}, PKCE{}, err
	}
	flow := FlowState{
		State:     state,
		Verifier:  pkce.Verifier,
		ReturnTo:  SafeReturnTo(returnTo),
		CreatedAt: time.Now().UTC(),
	}
	encoded, err := f.codec.Encode(f.cookies.PKCEName, flow)
	if err != nil {
		return FlowState{}, PKCE{}, fmt.Errorf("encode flow cookie: %w", err)
	}
	http.SetCookie(w, f.cookies.cookie(f.cookies.PKCEName, encoded, FlowMaxAge))
	return flow, pkce, nil
}

// Complete decodes the flow cookie, checks state, and clears the cookie.
func (f *FlowCookies) Complete(w http.ResponseWriter, r *http.Request, state string) (FlowState, error) {
	http.SetCookie(w, f.cookies.Expire(f.cookies.PKCEName))

	c, err := r.Cookie(f.cookies.PKCEName)
	if err != nil || c.Value == "" {
		return FlowState{}, ErrInvalidFlow
	}
	var flow FlowState
	if err := f.codec.Decode(f.cookies.PKCEName, c.Value, &flow); err != nil {
		return FlowState{}, ErrInvalidFlow
	}
	if state == "" || subtle.ConstantTimeCompare([]byte(flow.State), []byte(state)) != 1 {
		return FlowState{}, ErrInvalidFlow
	}
	if time.Since(flow.CreatedAt) > FlowMaxAge {
		return FlowState{}, ErrInvalidFlow
	}
	return flow, nil
}

// SafeReturnTo only allows same-origin absolute paths.
func SafeReturnTo(target string) string {
	target = strings.TrimSpace(target)
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return "/"
	}
	return target
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

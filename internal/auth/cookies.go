package auth

import (
	"net/http"
	"time"

	"github.com/Togather-Foundation/appkit/internal/config"
)

const (
	DefaultSessionCookie = "appkit_session"
	DefaultPKCECookie    = "appkit_pkce"
	DefaultStateCookie   = "appkit_oauth_state"

	// FlowMaxAge bounds how long an OAuth/PKCE round trip may take.
	FlowMaxAge = 10 * time.Minute
)

// CookieConfig names and scopes the cookies the auth manager sets.
type CookieConfig struct {
	SessionName string
	PKCEName    string
	StateName   string
	Path        string
	Domain      string
	Secure      bool
	SameSite    http.SameSite
	MaxAge      time.Duration
}

// CookieConfigFromConfig builds the cookie options from application config.
func CookieConfigFromConfig(cfg config.AuthConfig) CookieConfig {
	c := CookieConfig{
		SessionName: cfg.SessionCookieName,
		PKCEName:    cfg.PKCECookieName,
		StateName:   DefaultStateCookie,
		Path:        "/",
		Domain:      cfg.CookieDomain,
		Secure:      cfg.CookieSecure,
		SameSite:    http.SameSiteLaxMode,
		MaxAge:      cfg.JWTExpiry,
	}
	if c.SessionName == "" {
		c.SessionName = DefaultSessionCookie
	}
	if c.PKCEName == "" {
		c.PKCEName = DefaultPKCECookie
	}
	return c
}

func (c CookieConfig) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	}
}

// SessionCookie returns the cookie carrying a session token.
func (c CookieConfig) SessionCookie(token string) *http.Cookie {
	return c.cookie(c.SessionName, token, c.MaxAge)
}

// Expire returns a cookie that deletes name on the client.
func (c CookieConfig) Expire(name string) *http.Cookie {
	ck := c.cookie(name, "", 0)
	ck.MaxAge = -1
	ck.Expires = time.Unix(0, 0)
	return ck
}

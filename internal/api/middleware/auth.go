package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/Togather-Foundation/appkit/internal/api/problem"
	"github.com/Togather-Foundation/appkit/internal/auth"
)

type contextKeyAuth string

const claimsKey contextKeyAuth = "claims"

// Authenticator is the part of auth.Manager the middleware needs.
type Authenticator interface {
	Authenticate(r *http.Request) (*auth.Claims, error)
}

func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// Claims returns the authenticated caller, or nil.
func Claims(r *http.Request) *auth.Claims {
	if r == nil {
		return nil
	}
	if claims, ok := r.Context().Value(claimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// OptionalAuth attaches claims when the request carries a valid session and
// passes anonymous requests through untouched.
func OptionalAuth(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a != nil {
				if claims, err := a.Authenticate(r); err == nil {
					r = r.WithContext(WithClaims(r.Context(), claims))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth accepts a Bearer token or the session cookie and answers 401
// otherwise.
func RequireAuth(a Authenticator, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil {
				problem.Unauthorized(w, r, auth.ErrMissingToken, env)
				return
			}
			claims, err := a.Authenticate(r)
			if err != nil {
				problem.Unauthorized(w, r, err, env)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin(env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := Claims(r)
			if claims == nil {
				problem.Unauthorized(w, r, auth.ErrMissingToken, env)
				return
			}
			if !auth.IsAdmin(claims.Role) {
				problem.Forbidden(w, r, errors.New("admin role required"), env)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireLogin is the page variant of RequireAuth: anonymous visitors are
// redirected to loginPath with the original URL as return_to.
func RequireLogin(a Authenticator, loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var claims *auth.Claims
			var err error
			if a != nil {
				claims, err = a.Authenticate(r)
			}
			if a == nil || err != nil {
				target := loginPath + "?return_to=" + url.QueryEscape(r.URL.RequestURI())
				http.Redirect(w, r, target, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

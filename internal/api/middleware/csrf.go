package middleware

import (
	"html/template"
	"net/http"

	"github.com/gorilla/csrf"

	"github.com/Togather-Foundation/appkit/internal/api/problem"
)

// CSRFProtection guards the cookie-authenticated web pages. Bearer-token API
// routes do not need it. Requests that arrived over plain HTTP are marked as
// such so the Referer check only applies to TLS traffic.
func CSRFProtection(authKey []byte, secure bool, env string) func(http.Handler) http.Handler {
	protect := csrf.Protect(authKey,
		csrf.Secure(secure),
		csrf.Path("/"),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.CookieName("appkit_csrf"),
		csrf.ErrorHandler(csrfFailure(env)),
	)
	return func(next http.Handler) http.Handler {
		protected := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
				r = csrf.PlaintextHTTPRequest(r)
			}
			protected.ServeHTTP(w, r)
		})
	}
}

func csrfFailure(env string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusForbidden, problem.TypeCSRF, "CSRF token validation failed", csrf.FailureReason(r), env)
	})
}

// CSRFField renders the hidden form input carrying the token.
func CSRFField(r *http.Request) template.HTML {
	return csrf.TemplateField(r)
}

func CSRFToken(r *http.Request) string {
	return csrf.Token(r)
}

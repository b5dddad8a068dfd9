// Package problem writes RFC 7807 problem+json responses.
package problem

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

const contentType = "application/problem+json"

const typeBase = "https://appkit.togather.foundation/problems/"

// Problem type URIs.
const (
	TypeBadRequest       = typeBase + "bad-request"
	TypeValidation       = typeBase + "validation-error"
	TypeUnauthorized     = typeBase + "unauthorized"
	TypeForbidden        = typeBase + "forbidden"
	TypeNotFound         = typeBase + "not-found"
	TypeConflict         = typeBase + "conflict"
	TypeRateLimited      = typeBase + "rate-limited"
	TypeUpstream         = typeBase + "upstream-error"
	TypeUnavailable      = typeBase + "service-unavailable"
	TypeInternal         = typeBase + "internal-error"
	TypeCSRF             = typeBase + "csrf-failure"
	TypeMethodNotAllowed = typeBase + "method-not-allowed"
	TypeTooLarge         = typeBase + "request-too-large"
)

// Details is the response body.
type Details struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Status   int            `json:"status"`
	Detail   string         `json:"detail,omitempty"`
	Instance string         `json:"instance,omitempty"`
	Errors   map[string]any `json:"errors,omitempty"`
}

type Option func(*Details)

// WithDetail sets a client-facing detail that is shown in every environment.
func WithDetail(detail string) Option {
	return func(d *Details) { d.Detail = detail }
}

// WithErrors attaches per-field validation messages.
func WithErrors(errs map[string]any) Option {
	return func(d *Details) { d.Errors = errs }
}

// exposeErrors reports whether raw error text may reach clients.
func exposeErrors(env string) bool {
	return env == "development" || env == "test"
}

// Write renders a problem and logs err through the request logger: 5xx at
// error level, everything else at warn. Without WithDetail the detail is the
// error text in development and test and the status text elsewhere.
func Write(w http.ResponseWriter, r *http.Request, status int, typ, title string, err error, env string, opts ...Option) {
	d := Details{Type: typ, Title: title, Status: status}
	for _, opt := range opts {
		opt(&d)
	}
	if d.Detail == "" && err != nil {
		d.Detail = http.StatusText(status)
		if exposeErrors(env) {
			d.Detail = err.Error()
		}
	}

	if r != nil {
		d.Instance = r.URL.Path
		if err != nil {
			logProblem(r, d, err)
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}

func logProblem(r *http.Request, d Details, err error) {
	logger := zerolog.Ctx(r.Context())
	ev := logger.Warn()
	if d.Status >= http.StatusInternalServerError {
		ev = logger.Error()
	}
	ev.Err(err).
		Int("status", d.Status).
		Str("type", d.Type).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg(d.Title)
}

func NotFound(w http.ResponseWriter, r *http.Request, err error, env string) {
	Write(w, r, http.StatusNotFound, TypeNotFound, "Not found", err, env)
}

func BadRequest(w http.ResponseWriter, r *http.Request, err error, env string, opts ...Option) {
	Write(w, r, http.StatusBadRequest, TypeBadRequest, "Bad request", err, env, opts...)
}

func Unauthorized(w http.ResponseWriter, r *http.Request, err error, env string) {
	Write(w, r, http.StatusUnauthorized, TypeUnauthorized, "Unauthorized", err, env)
}

func Forbidden(w http.ResponseWriter, r *http.Request, err error, env string) {
	Write(w, r, http.StatusForbidden, TypeForbidden, "Forbidden", err, env)
}

func Internal(w http.ResponseWriter, r *http.Request, err error, env string) {
	Write(w, r, http.StatusInternalServerError, TypeInternal, "Internal server error", err, env)
}

// Package audit records security-relevant actions (logins, admin operations)
// as structured log lines tagged component=audit.
package audit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Entry is one audited action.
type Entry struct {
	Timestamp    time.Time
	Action       string
	Actor        string
	ResourceType string
	ResourceID   string
	IPAddress    string
	Status       string
	Details      map[string]string
}

// Logger writes audit entries. A nil *Logger discards them.
type Logger struct {
	logger zerolog.Logger
}

func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger.With().Str("component", "audit").Logger()}
}

func (l *Logger) Log(e Entry) {
	if l == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Actor == "" {
		e.Actor = "anonymous"
	}

	ev := l.logger.Info()
	if e.Status == StatusFailure {
		ev = l.logger.Warn()
	}
	ev = ev.Time("at", e.Timestamp).
		Str("action", e.Action).
		Str("actor", e.Actor).
		Str("status", e.Status).
		Str("ip", e.IPAddress)
	if e.ResourceType != "" {
		ev = ev.Str("resource_type", e.ResourceType)
	}
	if e.ResourceID != "" {
		ev = ev.Str("resource_id", e.ResourceID)
	}
	if len(e.Details) > 0 {
		d := zerolog.Dict()
		for k, v := range e.Details {
			d = d.Str(k, v)
		}
		ev = ev.Dict("details", d)
	}
	ev.Msg("audit")
}

// Request logs an action taken during r, filling in the client address.
func (l *Logger) Request(r *http.Request, actor, action string, err error, details map[string]string) {
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
		if details == nil {
			details = map[string]string{}
		}
		details["error"] = err.Error()
	}
	l.Log(Entry{
		Action:    action,
		Actor:     actor,
		IPAddress: ClientIP(r),
		Status:    status,
		Details:   details,
	})
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote address without its port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

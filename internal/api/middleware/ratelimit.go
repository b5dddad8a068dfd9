package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/httprate"
	"golang.org/x/time/rate"

	"github.com/Togather-Foundation/appkit/internal/api/problem"
)

// PublicRateLimit allows perMinute requests per client IP in a sliding
// window. Zero disables the limit. Probe endpoints are never limited.
func PublicRateLimit(perMinute int, env string) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limit := httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			problem.Write(w, r, http.StatusTooManyRequests, problem.TypeRateLimited, "Too many requests", nil, env)
		}),
	)
	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// LoginThrottle is a token bucket per client IP for credential endpoints:
// a burst of `burst` attempts refilling one token every `every`.
type LoginThrottle struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	every    time.Duration
	burst    int
	env      string
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const throttleIdleTTL = 15 * time.Minute

// NewLoginThrottle allows 5 attempts per 15 minutes per IP.
func NewLoginThrottle(env string) *LoginThrottle {
	return &LoginThrottle{
		limiters: make(map[string]*limiterEntry),
		every:    3 * time.Minute,
		burst:    5,
		env:      env,
		now:      time.Now,
	}
}

func (t *LoginThrottle) allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	// Idle entries are swept once the map passes 1024 keys.
	if len(t.limiters) > 1024 {
		for k, e := range t.limiters {
			if now.Sub(e.lastSeen) > throttleIdleTTL {
				delete(t.limiters, k)
			}
		}
	}
	entry, ok := t.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(t.every), t.burst)}
		t.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (t *LoginThrottle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		if !t.allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(t.every.Seconds())))
			problem.Write(w, r, http.StatusTooManyRequests, problem.TypeRateLimited, "Too many login attempts", nil, t.env)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

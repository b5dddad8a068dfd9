package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Togather-Foundation/appkit/internal/api/render"
	"github.com/Togather-Foundation/appkit/internal/app"
	"github.com/Togather-Foundation/appkit/internal/metrics"
)

const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

type HealthCheck struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	GitCommit string                 `json:"git_commit"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

type CheckResult struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// HealthChecker probes every initialized client. Failing critical checks make
// the service unhealthy; failing optional ones only degrade it.
type HealthChecker struct {
	checks    []app.Check
	version   string
	gitCommit string
	timeout   time.Duration
}

func NewHealthChecker(checks []app.Check, version, gitCommit string) *HealthChecker {
	return &HealthChecker{
		checks:    checks,
		version:   version,
		gitCommit: gitCommit,
		timeout:   2 * time.Second,
	}
}

// Healthz is the liveness probe. It never touches dependencies.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	render.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz answers 503 while any critical dependency is unreachable or the
// server is shutting down.
func (h *HealthChecker) Readyz(w http.ResponseWriter, r *http.Request) {
	if r.Context().Err() != nil {
		render.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	results := h.run(r.Context(), true)
	for _, res := range results {
		if res.Status == statusFail {
			render.JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "checks": results})
			return
		}
	}
	render.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Health runs every check and reports healthy, degraded or unhealthy.
func (h *HealthChecker) Health(w http.ResponseWriter, r *http.Request) {
	results := h.run(r.Context(), false)

	overall := "healthy"
	status := http.StatusOK
	for _, res := range results {
		if res.Status == statusFail {
			overall = "unhealthy"
			status = http.StatusServiceUnavailable
			break
		}
		if res.Status == statusWarn {
			overall = "degraded"
		}
	}
	if overall == "unhealthy" {
		metrics.HealthStatus.Set(0)
	} else {
		metrics.HealthStatus.Set(1)
	}

	render.JSON(w, status, HealthCheck{
		Status:    overall,
		Version:   h.version,
		GitCommit: h.gitCommit,
		Checks:    results,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthChecker) run(ctx context.Context, criticalOnly bool) map[string]CheckResult {
	results := make(map[string]CheckResult, len(h.checks))
	var mu sync.Mutex
	var g errgroup.Group

	for _, check := range h.checks {
		if criticalOnly && !check.Critical {
			continue
		}
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			start := time.Now()
			err := check.Run(checkCtx)
			latency := time.Since(start)

			res := CheckResult{Status: statusPass, LatencyMs: latency.Milliseconds()}
			if err != nil {
				res.Message = err.Error()
				res.Status = statusWarn
				if check.Critical {
					res.Status = statusFail
				}
			}
			gauge := 1.0
			if err != nil {
				gauge = 0
			}
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(gauge)
			metrics.HealthCheckDuration.WithLabelValues(check.Name).Set(latency.Seconds())

			mu.Lock()
			results[check.Name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

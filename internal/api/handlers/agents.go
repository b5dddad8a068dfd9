package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/go-chi/chi/v5"

	"github.com/Togather-Foundation/appkit/internal/api/problem"
	"github.com/Togather-Foundation/appkit/internal/api/render"
	"github.com/Togather-Foundation/appkit/internal/ai"
)

// Generator is the part of ai.Client the agent routes use.
type Generator interface {
	Agents() []ai.Agent
	Generate(ctx context.Context, agentName, prompt string) (*ai.Reply, error)
}

type AgentsHandler struct {
	AI  Generator
	Env string
}

type generateRequest struct {
	Prompt string `json:"prompt" validate:"required,max=32000"`
}

// List handles GET /api/v1/agents. Instructions are omitted.
func (h *AgentsHandler) List(w http.ResponseWriter, r *http.Request) {
	agents := h.AI.Agents()
	items := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		items = append(items, map[string]any{"name": a.Name, "model": a.Model})
	}
	render.JSON(w, http.StatusOK, map[string]any{"items": items})
}

// Generate handles POST /api/v1/agents/{name}/generate.
func (h *AgentsHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := render.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err, h.Env)
		return
	}
	if h.AI == nil {
		problem.Write(w, r, http.StatusServiceUnavailable, problem.TypeUnavailable, "AI is not configured", nil, h.Env)
		return
	}

	reply, err := h.AI.Generate(r.Context(), chi.URLParam(r, "name"), req.Prompt)
	if err != nil {
		upstreamError(w, r, err, h.Env)
		return
	}
	render.JSON(w, http.StatusOK, reply)
}

// upstreamError maps wrapper errors onto problem responses.
func upstreamError(w http.ResponseWriter, r *http.Request, err error, env string) {
	var apiErr *anthropic.Error
	switch {
	case errors.Is(err, ai.ErrUnknownAgent):
		problem.NotFound(w, r, err, env)
	case errors.Is(err, context.DeadlineExceeded):
		problem.Write(w, r, http.StatusGatewayTimeout, problem.TypeUpstream, "Upstream timed out", err, env)
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests:
		problem.Write(w, r, http.StatusServiceUnavailable, problem.TypeRateLimited, "Upstream is rate limiting", err, env)
	default:
		problem.Write(w, r, http.StatusBadGateway, problem.TypeUpstream, "Upstream request failed", err, env)
	}
}

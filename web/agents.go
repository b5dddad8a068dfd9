package web

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/appkit/internal/ai"
	"github.com/Togather-Foundation/appkit/internal/api/problem"
	"github.com/Togather-Foundation/appkit/internal/routes"
	"github.com/Togather-Foundation/appkit/internal/sanitize"
)

// maxPromptRunes matches the API's prompt limit.
const maxPromptRunes = 32000

// Agents is the part of ai.Client the console uses.
type Agents interface {
	Agents() []ai.Agent
	Agent(name string) (ai.Agent, error)
	Generate(ctx context.Context, agentName, prompt string) (*ai.Reply, error)
}

type agentPages struct {
	Agents   Agents
	Renderer routes.Renderer
	Env      string
}

type agentData struct {
	Name         string
	Model        string
	Instructions template.HTML
	Prompt       string
	Reply        template.HTML
	Error        string
}

func (p *agentPages) agent(r *http.Request) (agentData, error) {
	if p.Agents == nil {
		return agentData{}, routes.ErrNotFound
	}
	a, err := p.Agents.Agent(chi.URLParam(r, "name"))
	if errors.Is(err, ai.ErrUnknownAgent) {
		return agentData{}, routes.ErrNotFound
	}
	if err != nil {
		return agentData{}, err
	}
	return agentData{
		Name:         a.Name,
		Model:        a.Model,
		Instructions: sanitize.Paragraphs(a.Instructions),
	}, nil
}

func (p *agentPages) load(r *http.Request) (any, error) {
	return p.agent(r)
}

// ask runs one prompt and renders the reply on the agent page. Model output
// is treated as untrusted HTML.
func (p *agentPages) ask(w http.ResponseWriter, r *http.Request) {
	data, err := p.agent(r)
	if errors.Is(err, routes.ErrNotFound) {
		problem.NotFound(w, r, err, p.Env)
		return
	}
	if err != nil {
		problem.Internal(w, r, err, p.Env)
		return
	}
	if err := r.ParseForm(); err != nil {
		problem.BadRequest(w, r, err, p.Env)
		return
	}

	data.Prompt = strings.TrimSpace(r.PostForm.Get("prompt"))
	switch {
	case data.Prompt == "":
		data.Error = "Enter a prompt."
	case utf8.RuneCountInString(data.Prompt) > maxPromptRunes:
		data.Error = "The prompt is too long."
	default:
		reply, err := p.Agents.Generate(r.Context(), data.Name, data.Prompt)
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Str("agent", data.Name).Msg("agent generation failed")
			data.Error = "The agent could not answer right now. Try again shortly."
		} else {
			data.Reply = sanitize.Paragraphs(reply.Text)
		}
	}

	if err := p.Renderer.Render(w, r, "agent.html", data); err != nil {
		problem.Internal(w, r, err, p.Env)
	}
}

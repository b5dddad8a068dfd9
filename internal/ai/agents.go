package ai

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Togather-Foundation/appkit/internal/config"
)

var ErrUnknownAgent = errors.New("unknown agent")

// Agent is a named system prompt with optional model overrides.
type Agent struct {
	Name         string `json:"name"`
	Model        string `json:"model,omitempty"`
	Instructions string `json:"instructions"`
	MaxTokens    int64  `json:"max_tokens,omitempty"`
}

// DefaultAgentName is always registered.
const DefaultAgentName = "assistant"

func defaultAgent() Agent {
	return Agent{
		Name:         DefaultAgentName,
		Instructions: "You are a concise, helpful assistant. Answer in plain text.",
	}
}

// AgentsFromConfig converts file-declared agents. A declared "assistant"
// replaces the built-in one.
func AgentsFromConfig(declared []config.AgentConfig) []Agent {
	out := make([]Agent, 0, len(declared))
	for _, a := range declared {
		out = append(out, Agent{
			Name:         a.Name,
			Model:        a.Model,
			Instructions: a.Instructions,
			MaxTokens:    a.MaxTokens,
		})
	}
	return out
}

type registry map[string]Agent

func newRegistry(agents []Agent) (registry, error) {
	r := registry{DefaultAgentName: defaultAgent()}
	seen := map[string]bool{}
	for _, a := range agents {
		if a.Name == "" {
			return nil, errors.New("agent name is required")
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("duplicate agent %q", a.Name)
		}
		seen[a.Name] = true
		r[a.Name] = a
	}
	return r, nil
}

func (r registry) get(name string) (Agent, error) {
	a, ok := r[name]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return a, nil
}

func (r registry) list() []Agent {
	out := make([]Agent, 0, len(r))
	for _, a := range r {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

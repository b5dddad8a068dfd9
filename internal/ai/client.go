package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/appkit/internal/config"
	"github.com/Togather-Foundation/appkit/internal/httpclient"
)

// Reply is the text and usage of one generation.
type Reply struct {
	ID           string `json:"id"`
	Agent        string `json:"agent"`
	Model        string `json:"model"`
	Text         string `json:"text"`
	StopReason   string `json:"stop_reason"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

type Client struct {
	api    anthropic.Client
	opts   Options
	agents registry
	logger zerolog.Logger
}

// New builds the client. The SDK's own retries are disabled; the shared
// retry transport applies opts.Retries instead.
func New(opts Options, agents []Agent, logger zerolog.Logger) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY: %w", config.ErrMissingRequired)
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("AI_MODEL: %w", config.ErrMissingRequired)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	reg, err := newRegistry(agents)
	if err != nil {
		return nil, err
	}

	logger = logger.With().Str("component", "ai").Logger()
	requestOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithHTTPClient(httpclient.New(opts.transport(), logger)),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &Client{
		api:    anthropic.NewClient(requestOpts...),
		opts:   opts,
		agents: reg,
		logger: logger,
	}, nil
}

// Agents lists registered agents sorted by name.
func (c *Client) Agents() []Agent { return c.agents.list() }

// Agent looks up one agent by name.
func (c *Client) Agent(name string) (Agent, error) { return c.agents.get(name) }

// Generate sends prompt to the named agent.
func (c *Client) Generate(ctx context.Context, agentName, prompt string) (*Reply, error) {
	agent, err := c.agents.get(agentName)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New("prompt is required")
	}

	model := agent.Model
	if model == "" {
		model = c.opts.Model
	}
	maxTokens := agent.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if agent.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: agent.Instructions}}
	}

	start := time.Now()
	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("anthropic API error (status %d): %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	reply := &Reply{
		ID:           msg.ID,
		Agent:        agent.Name,
		Model:        string(msg.Model),
		Text:         text.String(),
		StopReason:   string(msg.StopReason),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	c.logger.Info().
		Str("agent", agent.Name).
		Str("model", reply.Model).
		Int64("input_tokens", reply.InputTokens).
		Int64("output_tokens", reply.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("generation complete")
	return reply, nil
}

package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Togather-Foundation/appkit/internal/config"
)

type capturedRequest struct {
	Model     string `json:"model"`
	MaxTokens int64  `json:"max_tokens"`
	System    []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func fakeMessagesAPI(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32, *capturedRequest) {
	t.Helper()
	var hits atomic.Int32
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "sk-test" {
			t.Errorf("missing api key header")
		}
		if n <= failures {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
			return
		}
		if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "` + captured.Model + `",
			"content": [{"type": "text", "text": "Hello there."}],
			"stop_reason": "end_turn",
			"stop_sequence": null,
			"usage": {"input_tokens": 12, "output_tokens": 4}
		}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits, captured
}

func testOptions(baseURL string) Options {
	return Options{
		BaseURL:    baseURL,
		APIKey:     "sk-test",
		Model:      "claude-sonnet-4-5",
		MaxTokens:  256,
		Retries:    2,
		Backoff:    time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
		Timeout:    5 * time.Second,
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Options{Model: "m"}, nil, zerolog.Nop())
	require.ErrorIs(t, err, config.ErrMissingRequired)
}

func TestNew_DuplicateAgents(t *testing.T) {
	_, err := New(testOptions("http://localhost"), []Agent{
		{Name: "a", Instructions: "x"},
		{Name: "a", Instructions: "y"},
	}, zerolog.Nop())
	require.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	got := OptionsFromConfig(config.AIConfig{
		APIKey: "k", BaseURL: "https://api.example.com", Model: "m", MaxTokens: 10,
		Retries: 4, BackoffMs: 250, MaxBackoffMs: 4000, TimeoutSeconds: 30,
	})
	assert.Equal(t, Options{
		BaseURL: "https://api.example.com", APIKey: "k", Model: "m", MaxTokens: 10,
		Retries: 4, Backoff: 250 * time.Millisecond, MaxBackoff: 4 * time.Second, Timeout: 30 * time.Second,
	}, got)
}

func TestGenerate_UsesAgentAndRetries(t *testing.T) {
	srv, hits, captured := fakeMessagesAPI(t, 2)

	client, err := New(testOptions(srv.URL), []Agent{
		{Name: "pirate", Instructions: "Talk like a pirate.", MaxTokens: 64, Model: "claude-haiku-4-5"},
	}, zerolog.Nop())
	require.NoError(t, err)

	reply, err := client.Generate(context.Background(), "pirate", "Say hi")
	require.NoError(t, err)

	assert.Equal(t, int32(3), hits.Load(), "two 503s then success")
	assert.Equal(t, "Hello there.", reply.Text)
	assert.Equal(t, "pirate", reply.Agent)
	assert.Equal(t, "claude-haiku-4-5", reply.Model)
	assert.Equal(t, int64(12), reply.InputTokens)
	assert.Equal(t, int64(4), reply.OutputTokens)
	assert.Equal(t, "end_turn", reply.StopReason)

	assert.Equal(t, int64(64), captured.MaxTokens)
	require.Len(t, captured.System, 1)
	assert.Equal(t, "Talk like a pirate.", captured.System[0].Text)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
	assert.Equal(t, "Say hi", captured.Messages[0].Content[0].Text)
}

func TestGenerate_DefaultAgent(t *testing.T) {
	srv, _, captured := fakeMessagesAPI(t, 0)
	client, err := New(testOptions(srv.URL), nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), DefaultAgentName, "hello")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", captured.Model)
	assert.Equal(t, int64(256), captured.MaxTokens)
}

func TestGenerate_UnknownAgent(t *testing.T) {
	client, err := New(testOptions("http://127.0.0.1:1"), nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "nobody", "hi")
	assert.True(t, errors.Is(err, ErrUnknownAgent))
}

func TestGenerate_GivesUpAfterRetries(t *testing.T) {
	srv, hits, _ := fakeMessagesAPI(t, 100)
	client, err := New(testOptions(srv.URL), nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), DefaultAgentName, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Equal(t, int32(3), hits.Load(), "retries+1 attempts, no SDK-level retries")
}

func TestAgentsSorted(t *testing.T) {
	client, err := New(testOptions("http://localhost"), []Agent{{Name: "zeta", Instructions: "z"}, {Name: "alpha", Instructions: "a"}}, zerolog.Nop())
	require.NoError(t, err)

	var names []string
	for _, a := range client.Agents() {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"alpha", "assistant", "zeta"}, names)
}

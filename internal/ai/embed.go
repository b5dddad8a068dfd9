package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"strings"
	"unicode"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/Togather-Foundation/appkit/internal/config"
	"github.com/Togather-Foundation/appkit/internal/httpclient"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// QueryEmbedder is implemented by embedders that encode search queries
// differently from stored documents.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ErrEmptyInput means the text has nothing an embedder can encode.
var ErrEmptyInput = errors.New("cannot embed empty text")

// EmbedQuery embeds text as a search query, using the query encoding when e
// has one.
func EmbedQuery(ctx context.Context, e Embedder, text string) ([]float32, error) {
	if qe, ok := e.(QueryEmbedder); ok {
		return qe.EmbedQuery(ctx, text)
	}
	return e.Embed(ctx, text)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

// HashDimensions is the vector size produced by HashEmbedder.
const HashDimensions = 256

// HashEmbedder is a deterministic feature-hashing embedder used when no
// embedding API key is configured. Vectors are L2-normalized.
type HashEmbedder struct{}

func (HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, HashDimensions)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		return nil, ErrEmptyInput
	}
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		sign := float32(1)
		if sum&(1<<31) != 0 {
			sign = -1
		}
		vec[sum%HashDimensions] += sign
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		// Every token cancelled out; fall back to a unit vector.
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// GenAIEmbedder calls the Gemini embedding API.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
}

// EmbeddingOptions configures GenAIEmbedder.
type EmbeddingOptions struct {
	APIKey  string
	Model   string
	BaseURL string
}

func EmbeddingOptionsFromConfig(cfg config.EmbeddingsConfig) EmbeddingOptions {
	return EmbeddingOptions{APIKey: cfg.GeminiAPIKey, Model: cfg.Model}
}

func NewGenAIEmbedder(ctx context.Context, opts EmbeddingOptions, httpClient *http.Client) (*GenAIEmbedder, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY: %w", config.ErrMissingRequired)
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("EMBEDDING_MODEL: %w", config.ErrMissingRequired)
	}
	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIEmbedder{client: client, model: opts.Model}, nil
}

// Gemini task types for stored documents and search queries.
const (
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, taskRetrievalDocument)
}

func (e *GenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, taskRetrievalQuery)
}

func (e *GenAIEmbedder) embed(ctx context.Context, text, task string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{TaskType: task},
	)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, errors.New("embedding response was empty")
	}
	return resp.Embeddings[0].Values, nil
}

// CachedEmbedder memoizes another Embedder by content hash.
type CachedEmbedder struct {
	next  Embedder
	cache *ristretto.Cache
}

func NewCachedEmbedder(next Embedder, maxEntries int64) (*CachedEmbedder, error) {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.cached(ctx, "d:", text, c.next.Embed)
}

// EmbedQuery caches query encodings separately from document encodings.
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if _, ok := c.next.(QueryEmbedder); !ok {
		return c.Embed(ctx, text)
	}
	return c.cached(ctx, "q:", text, func(ctx context.Context, text string) ([]float32, error) {
		return EmbedQuery(ctx, c.next, text)
	})
}

func (c *CachedEmbedder) cached(ctx context.Context, prefix, text string, embed EmbedderFunc) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	key := prefix + hex.EncodeToString(sum[:])
	if v, ok := c.cache.Get(key); ok {
		return v.([]float32), nil
	}
	vec, err := embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec, 1)
	return vec, nil
}

func (c *CachedEmbedder) Close() { c.cache.Close() }

// NewEmbedder returns the Gemini embedder when a key is configured and the
// hash embedder otherwise, both behind a cache.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig, opts httpclient.Options, logger zerolog.Logger) (*CachedEmbedder, string, error) {
	var (
		inner Embedder = HashEmbedder{}
		kind           = "hash"
	)
	if cfg.GeminiAPIKey != "" {
		opts.Name = "genai"
		g, err := NewGenAIEmbedder(ctx, EmbeddingOptionsFromConfig(cfg), httpclient.New(opts, logger))
		if err != nil {
			return nil, "", err
		}
		inner, kind = g, "genai"
	}
	cached, err := NewCachedEmbedder(inner, 0)
	if err != nil {
		return nil, "", err
	}
	return cached, kind, nil
}

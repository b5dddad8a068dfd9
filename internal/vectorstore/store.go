// Package vectorstore stores documents with embeddings and answers
// similarity queries, backed by chromem-go.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/appkit/internal/ai"
	"github.com/Togather-Foundation/appkit/internal/config"
)

// MaxQueryLimit caps the number of results a single query can return.
const MaxQueryLimit = 100

// ErrInvalidDocument wraps validation failures on documents and queries.
var ErrInvalidDocument = errors.New("invalid document")

type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Result struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Similarity float32           `json:"similarity"`
}

type Options struct {
	Path       string
	Collection string
}

func OptionsFromConfig(cfg config.VectorStoreConfig) Options {
	return Options{Path: cfg.Path, Collection: cfg.Collection}
}

type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   ai.Embedder
	persistent bool
	logger     zerolog.Logger
}

// New opens the store. An empty Path keeps everything in memory.
func New(opts Options, embedder ai.Embedder, logger zerolog.Logger) (*Store, error) {
	if opts.Collection == "" {
		return nil, fmt.Errorf("VECTOR_COLLECTION: %w", config.ErrMissingRequired)
	}
	if embedder == nil {
		return nil, errors.New("vector store requires an embedder")
	}

	var (
		db  *chromem.DB
		err error
	)
	if opts.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(opts.Path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector store at %s: %w", opts.Path, err)
		}
	}

	collection, err := db.GetOrCreateCollection(opts.Collection, nil, chromem.EmbeddingFunc(embedder.Embed))
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", opts.Collection, err)
	}

	s := &Store{
		db:         db,
		collection: collection,
		embedder:   embedder,
		persistent: opts.Path != "",
		logger:     logger.With().Str("component", "vectorstore").Logger(),
	}
	s.logger.Debug().
		Str("collection", opts.Collection).
		Bool("persistent", s.persistent).
		Int("documents", collection.Count()).
		Msg("vector store opened")
	return s, nil
}

// Upsert embeds and stores doc, replacing any document with the same ID.
func (s *Store) Upsert(ctx context.Context, doc Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDocument)
	}
	if strings.TrimSpace(doc.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidDocument)
	}
	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:       doc.ID,
		Content:  doc.Content,
		Metadata: doc.Metadata,
	})
	if err != nil {
		return fmt.Errorf("add document %s: %w", doc.ID, err)
	}
	return nil
}

// Query returns up to limit documents most similar to text. The limit is
// clamped to the collection size; an empty collection yields no results.
// The query is embedded with the embedder's query encoding when it has one.
func (s *Store) Query(ctx context.Context, text string, limit int) ([]Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query text is required", ErrInvalidDocument)
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	if s.collection.Count() == 0 {
		return []Result{}, nil
	}

	vec, err := ai.EmbedQuery(ctx, s.embedder, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Documents can be deleted between counting and querying; re-clamp once.
	var res []chromem.Result
	for attempt := 0; attempt < 2; attempt++ {
		n := min(limit, s.collection.Count())
		if n == 0 {
			return []Result{}, nil
		}
		res, err = s.collection.QueryEmbedding(ctx, vec, n, nil, nil)
		if err == nil || !isTooManyResults(err) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}
	out := make([]Result, 0, len(res))
	for _, r := range res {
		out = append(out, Result{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Similarity: r.Similarity})
	}
	return out, nil
}

// isTooManyResults matches chromem's rejection of nResults above the
// collection size.
func isTooManyResults(err error) bool {
	return strings.Contains(err.Error(), "nResults must be <=")
}

// Delete removes documents by ID.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

func (s *Store) Count() int { return s.collection.Count() }

package vectorstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Togather-Foundation/appkit/internal/ai"
	"github.com/Togather-Foundation/appkit/internal/config"
)

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Options{Collection: "docs"}, ai.HashEmbedder{}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestNew_RequiresCollection(t *testing.T) {
	_, err := New(Options{}, ai.HashEmbedder{}, zerolog.Nop())
	require.ErrorIs(t, err, config.ErrMissingRequired)
}

func TestQuery_EmptyCollection(t *testing.T) {
	s := newMemoryStore(t)
	res, err := s.Query(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestUpsertAndQuery(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	docs := []Document{
		{ID: "pg", Content: "postgres connection pool migrations database", Metadata: map[string]string{"kind": "db"}},
		{ID: "mail", Content: "send welcome email through resend provider"},
		{ID: "kms", Content: "encrypt and decrypt secrets with the key management service"},
	}
	for _, d := range docs {
		require.NoError(t, s.Upsert(ctx, d))
	}
	assert.Equal(t, 3, s.Count())

	res, err := s.Query(ctx, "database migrations", 10)
	require.NoError(t, err)
	require.Len(t, res, 3, "limit clamped to collection size")
	assert.Equal(t, "pg", res[0].ID)
	assert.Equal(t, "db", res[0].Metadata["kind"])
	assert.GreaterOrEqual(t, res[0].Similarity, res[1].Similarity)

	// Upsert replaces by ID.
	require.NoError(t, s.Upsert(ctx, Document{ID: "pg", Content: "replaced content about queues"}))
	assert.Equal(t, 3, s.Count())

	require.NoError(t, s.Delete(ctx, "mail"))
	assert.Equal(t, 2, s.Count())
}

func TestUpsert_Validation(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	assert.ErrorIs(t, s.Upsert(ctx, Document{Content: "no id"}), ErrInvalidDocument)
	assert.ErrorIs(t, s.Upsert(ctx, Document{ID: "x"}), ErrInvalidDocument)
	assert.ErrorIs(t, s.Upsert(ctx, Document{ID: "x", Content: "!!!"}), ai.ErrEmptyInput)

	_, err := s.Query(ctx, " ", 5)
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

// queryHook embeds like HashEmbedder and runs onQuery before encoding a query.
type queryHook struct {
	ai.HashEmbedder
	queries atomic.Int32
	onQuery func()
}

func (q *queryHook) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	q.queries.Add(1)
	if q.onQuery != nil {
		q.onQuery()
	}
	return q.HashEmbedder.Embed(ctx, text)
}

func TestQuery_UsesQueryEncoding(t *testing.T) {
	hook := &queryHook{}
	s, err := New(Options{Collection: "docs"}, hook, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Document{ID: "a", Content: "river job queue"}))
	assert.Zero(t, hook.queries.Load(), "documents use the document encoding")

	res, err := s.Query(ctx, "job queue", 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, int32(1), hook.queries.Load())
}

func TestQuery_DocumentsDeletedMidQuery(t *testing.T) {
	hook := &queryHook{}
	s, err := New(Options{Collection: "docs"}, hook, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Upsert(ctx, Document{ID: id, Content: "shared words " + id}))
	}

	hook.onQuery = func() { require.NoError(t, s.Delete(ctx, "a", "b")) }
	res, err := s.Query(ctx, "shared words", 3)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "c", res[0].ID)

	hook.onQuery = func() { require.NoError(t, s.Delete(ctx, "c")) }
	res, err = s.Query(ctx, "shared words", 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestIsTooManyResults(t *testing.T) {
	assert.True(t, isTooManyResults(errors.New("nResults must be <= the number of documents in the collection")))
	assert.False(t, isTooManyResults(errors.New("nResults must be > 0")))
}

func TestPersistentStore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(Options{Path: dir, Collection: "docs"}, ai.HashEmbedder{}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, Document{ID: "a", Content: "persisted document"}))

	reopened, err := New(Options{Path: dir, Collection: "docs"}, ai.HashEmbedder{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Count())
}

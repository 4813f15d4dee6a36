package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/ragmux/internal/config"
	"github.com/blueberrycongee/ragmux/internal/ragerrors"
	"github.com/blueberrycongee/ragmux/internal/vector"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) EmbedText(context.Context, string, string) ([]float32, error) {
	return f.vec, f.err
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, _ string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = f.vec
	}
	return out, f.err
}

type fakeStore struct {
	hits       []vector.Hit
	err        error
	collection string
	topK       int
}

func (f *fakeStore) EnsureCollection(context.Context, string, int) error { return nil }
func (f *fakeStore) Upsert(context.Context, string, []vector.Point) error {
	return nil
}
func (f *fakeStore) DeleteCollection(context.Context, string) error { return nil }
func (f *fakeStore) Close() error                                   { return nil }

func (f *fakeStore) Search(_ context.Context, collection string, _ []float32, topK int) ([]vector.Hit, error) {
	f.collection = collection
	f.topK = topK
	return f.hits, f.err
}

func testRAGConfig() *config.RAGConfig {
	return &config.RAGConfig{
		ID: "docs",
		Embedding: config.RAGEmbedding{
			Model:     "text-embedding-3-small",
			Dimension: 3,
		},
		Retrieval: config.RAGRetrieval{
			TopK:             5,
			MaxTopK:          20,
			ScoreThreshold:   0.3,
			FilterDuplicates: true,
		},
	}
}

func TestRetrieveFiltersAndOrders(t *testing.T) {
	store := &fakeStore{hits: []vector.Hit{
		{ID: "b", Text: "second", Source: "s2", Score: 0.7},
		{ID: "a", Text: "first", Source: "s1", Score: 0.9},
		{ID: "c", Text: "below threshold", Source: "s3", Score: 0.1},
	}}
	r := New(&fakeEmbedder{vec: []float32{1, 2, 3}}, store)

	chunks, err := r.Retrieve(context.Background(), testRAGConfig(), "question", 5)
	require.NoError(t, err)

	require.Len(t, chunks, 2)
	assert.Equal(t, "a", chunks[0].ID)
	assert.Equal(t, "b", chunks[1].ID)
	assert.Equal(t, "docs_collection", store.collection)
	assert.Equal(t, 5, store.topK)
}

func TestRetrieveDedupesByNormalizedText(t *testing.T) {
	store := &fakeStore{hits: []vector.Hit{
		{ID: "a", Text: "The Widget Manual", Score: 0.9},
		{ID: "b", Text: "the   widget manual", Score: 0.8},
		{ID: "c", Text: "something else", Score: 0.7},
	}}
	r := New(&fakeEmbedder{vec: []float32{1, 2, 3}}, store)

	chunks, err := r.Retrieve(context.Background(), testRAGConfig(), "q", 5)
	require.NoError(t, err)

	require.Len(t, chunks, 2)
	assert.Equal(t, "a", chunks[0].ID) // higher score survives
	assert.Equal(t, "c", chunks[1].ID)
}

func TestRetrieveKeepsDuplicatesWhenFilterOff(t *testing.T) {
	store := &fakeStore{hits: []vector.Hit{
		{ID: "a", Text: "same", Score: 0.9},
		{ID: "b", Text: "same", Score: 0.8},
	}}
	r := New(&fakeEmbedder{vec: []float32{1, 2, 3}}, store)

	cfg := testRAGConfig()
	cfg.Retrieval.FilterDuplicates = false

	chunks, err := r.Retrieve(context.Background(), cfg, "q", 5)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestRetrieveEmptyResult(t *testing.T) {
	r := New(&fakeEmbedder{vec: []float32{1, 2, 3}}, &fakeStore{})

	chunks, err := r.Retrieve(context.Background(), testRAGConfig(), "q", 5)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestRetrieveDimensionMismatch(t *testing.T) {
	r := New(&fakeEmbedder{vec: []float32{1, 2}}, &fakeStore{})

	_, err := r.Retrieve(context.Background(), testRAGConfig(), "q", 5)
	require.Error(t, err)

	re, ok := ragerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ragerrors.TypeEmbeddingMisconfigured, re.Type)
}

func TestRetrieveEmbedFailure(t *testing.T) {
	r := New(&fakeEmbedder{err: errors.New("connection refused")}, &fakeStore{})

	_, err := r.Retrieve(context.Background(), testRAGConfig(), "q", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed question")
}

func TestRetrieveSearchFailure(t *testing.T) {
	r := New(&fakeEmbedder{vec: []float32{1, 2, 3}}, &fakeStore{err: errors.New("unavailable")})

	_, err := r.Retrieve(context.Background(), testRAGConfig(), "q", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector search")
}

package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/store"
)

// stubEmbedder returns canned vectors per query text.
type stubEmbedder struct {
	vectors map[string][]float32
	dims    int
	err     error
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return make([]float32, s.dims), nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int                { return s.dims }
func (s *stubEmbedder) ModelName() string              { return "stub" }
func (s *stubEmbedder) Available(context.Context) bool { return s.err == nil }
func (s *stubEmbedder) Close() error                   { return nil }

func newRetrieverFixture(t *testing.T) (*VectorRetriever, *store.HNSWIndex) {
	t.Helper()

	idx, err := store.NewHNSWIndex(store.HNSWConfig{Collection: "docs", Dimensions: 4})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, idx.Upsert(context.Background(), []store.EmbeddingRecord{
		{Chunk: store.Chunk{ID: "c1", ParentID: "d1", Content: "identical"}, Vector: []float32{1, 0, 0, 0}, CreatedAt: now},
		{Chunk: store.Chunk{ID: "c2", ParentID: "d1", Content: "orthogonal", Metadata: map[string]string{"kind": "email"}}, Vector: []float32{0, 1, 0, 0}, CreatedAt: now},
		{Chunk: store.Chunk{ID: "c3", ParentID: "d2", Content: "opposite"}, Vector: []float32{-1, 0, 0, 0}, CreatedAt: now},
	}))

	emb := &stubEmbedder{dims: 4, vectors: map[string][]float32{
		"query": {1, 0, 0, 0},
	}}
	r, err := NewVectorRetriever("vector", idx, emb)
	require.NoError(t, err)
	return r, idx
}

func TestVectorRetriever_SearchOrderingAndNormalization(t *testing.T) {
	r, _ := newRetrieverFixture(t)

	results, err := r.Search(context.Background(), "query", 3, Options{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "c1", results[0].Chunk.ID)
	assert.Equal(t, "c2", results[1].Chunk.ID)
	assert.Equal(t, "c3", results[2].Chunk.ID)

	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.InDelta(t, 0.5, results[1].Score, 1e-5)
	assert.InDelta(t, 0.0, results[2].Score, 1e-5)

	for i, res := range results {
		assert.Equal(t, i+1, res.Rank)
		assert.GreaterOrEqual(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 1.0)
	}
}

func TestVectorRetriever_TopKLimit(t *testing.T) {
	r, _ := newRetrieverFixture(t)

	results, err := r.Search(context.Background(), "query", 1, Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].Chunk.ID)
}

func TestVectorRetriever_InvalidTopK(t *testing.T) {
	r, _ := newRetrieverFixture(t)

	_, err := r.Search(context.Background(), "query", 0, Options{})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestVectorRetriever_EmbeddingFailure(t *testing.T) {
	idx, err := store.NewHNSWIndex(store.HNSWConfig{Collection: "docs", Dimensions: 4})
	require.NoError(t, err)

	emb := &stubEmbedder{dims: 4, err: errors.New("provider down")}
	r, err := NewVectorRetriever("vector", idx, emb)
	require.NoError(t, err)

	_, err = r.Search(context.Background(), "query", 3, Options{})
	require.ErrorIs(t, err, ErrEmbeddingUnavailable)
}

func TestVectorRetriever_ThresholdInNormalizedSpace(t *testing.T) {
	r, _ := newRetrieverFixture(t)

	// 0.75 normalized corresponds to raw cosine 0.5, so only the
	// identical chunk survives.
	threshold := 0.75
	results, err := r.Search(context.Background(), "query", 3, Options{ScoreThreshold: &threshold})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].Chunk.ID)
}

func TestVectorRetriever_MetadataFilter(t *testing.T) {
	r, _ := newRetrieverFixture(t)

	results, err := r.Search(context.Background(), "query", 3, Options{
		Filter: map[string]string{"kind": "email"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].Chunk.ID)
	assert.Equal(t, 1, results[0].Rank)
}

func TestVectorRetriever_EmptyResultIsNotError(t *testing.T) {
	r, _ := newRetrieverFixture(t)

	results, err := r.Search(context.Background(), "query", 3, Options{
		Filter: map[string]string{"kind": "missing"},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorRetriever_SimilarToChunk(t *testing.T) {
	r, _ := newRetrieverFixture(t)

	results, err := r.SimilarToChunk(context.Background(), "c1", 2, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, res := range results {
		assert.NotEqual(t, "c1", res.Chunk.ID, "source chunk must be excluded")
	}
	assert.Equal(t, "c2", results[0].Chunk.ID)
	assert.Equal(t, 1, results[0].Rank)
}

func TestVectorRetriever_SimilarToChunk_NotFound(t *testing.T) {
	r, _ := newRetrieverFixture(t)

	_, err := r.SimilarToChunk(context.Background(), "ghost", 2, Options{})
	require.ErrorIs(t, err, ErrChunkNotFound)
}

func TestVectorRetriever_TieBreakByChunkID(t *testing.T) {
	idx, err := store.NewHNSWIndex(store.HNSWConfig{Collection: "docs", Dimensions: 4})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, idx.Upsert(context.Background(), []store.EmbeddingRecord{
		{Chunk: store.Chunk{ID: "zz", Content: "a"}, Vector: []float32{1, 0, 0, 0}, CreatedAt: now},
		{Chunk: store.Chunk{ID: "aa", Content: "b"}, Vector: []float32{1, 0, 0, 0}, CreatedAt: now},
	}))

	emb := &stubEmbedder{dims: 4, vectors: map[string][]float32{"query": {1, 0, 0, 0}}}
	r, err := NewVectorRetriever("vector", idx, emb)
	require.NoError(t, err)

	results, err := r.Search(context.Background(), "query", 2, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "aa", results[0].Chunk.ID)
	assert.Equal(t, "zz", results[1].Chunk.ID)
}

func TestNewVectorRetriever_DimensionMismatch(t *testing.T) {
	idx, err := store.NewHNSWIndex(store.HNSWConfig{Collection: "docs", Dimensions: 8})
	require.NoError(t, err)

	_, err = NewVectorRetriever("vector", idx, &stubEmbedder{dims: 4})
	require.Error(t, err)
}

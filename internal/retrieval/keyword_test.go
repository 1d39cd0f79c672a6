package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/store"
)

func newTestKeyword(t *testing.T) *KeywordRetriever {
	t.Helper()
	k, err := NewKeywordRetriever("keyword", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })

	require.NoError(t, k.Index([]store.Chunk{
		{ID: "c1", ParentID: "d1", Content: "quarterly revenue grew by twelve percent"},
		{ID: "c2", ParentID: "d1", Content: "revenue projections for the next quarter", Metadata: map[string]string{"kind": "email"}},
		{ID: "c3", ParentID: "d2", Content: "office relocation scheduled for march"},
	}))
	return k
}

func TestKeywordRetriever_Search(t *testing.T) {
	k := newTestKeyword(t)

	results, err := k.Search(context.Background(), "revenue", 10, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	ids := []string{results[0].Chunk.ID, results[1].Chunk.ID}
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids)

	// Top hit normalizes to 1.0, everything stays in [0,1].
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	for i, res := range results {
		assert.Equal(t, i+1, res.Rank)
		assert.GreaterOrEqual(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 1.0)
	}
}

func TestKeywordRetriever_NoMatches(t *testing.T) {
	k := newTestKeyword(t)

	results, err := k.Search(context.Background(), "zeppelin", 10, Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestKeywordRetriever_EmptyQuery(t *testing.T) {
	k := newTestKeyword(t)

	results, err := k.Search(context.Background(), "   ", 10, Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestKeywordRetriever_MetadataFilter(t *testing.T) {
	k := newTestKeyword(t)

	results, err := k.Search(context.Background(), "revenue", 10, Options{
		Filter: map[string]string{"kind": "email"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].Chunk.ID)
}

func TestKeywordRetriever_InvalidTopK(t *testing.T) {
	k := newTestKeyword(t)

	_, err := k.Search(context.Background(), "revenue", 0, Options{})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestKeywordRetriever_Delete(t *testing.T) {
	k := newTestKeyword(t)

	require.NoError(t, k.Delete([]string{"c1"}))
	assert.Equal(t, 2, k.Count())

	results, err := k.Search(context.Background(), "quarterly", 10, Options{})
	require.NoError(t, err)
	for _, res := range results {
		assert.NotEqual(t, "c1", res.Chunk.ID)
	}
}

func TestKeywordRetriever_ClosedIsUnhealthy(t *testing.T) {
	k, err := NewKeywordRetriever("keyword", "")
	require.NoError(t, err)

	assert.True(t, k.Healthy(context.Background()))
	require.NoError(t, k.Close())
	assert.False(t, k.Healthy(context.Background()))

	_, err = k.Search(context.Background(), "anything", 5, Options{})
	require.Error(t, err)
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHNSW(t *testing.T) *HNSWIndex {
	t.Helper()
	idx, err := NewHNSWIndex(HNSWConfig{Collection: "test", Dimensions: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func vecRecord(id string, vector []float32, meta map[string]string) EmbeddingRecord {
	return EmbeddingRecord{
		Chunk:     Chunk{ID: id, ParentID: "doc-1", Content: "content " + id, Metadata: meta},
		Vector:    vector,
		Model:     "test-model",
		CreatedAt: time.Now(),
	}
}

func TestHNSWIndex_RoundTrip(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	rec := vecRecord("A", []float32{1, 0, 0, 0}, nil)
	require.NoError(t, idx.Upsert(ctx, []EmbeddingRecord{rec}))

	// Searching with a record's own vector returns it first with cosine
	// self-similarity ~1.0.
	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 1, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "A", hits[0].Record.ID)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-5)
}

func TestHNSWIndex_SearchOrdering(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	// v1 identical to the query, v2 orthogonal, v3 opposite.
	require.NoError(t, idx.Upsert(ctx, []EmbeddingRecord{
		vecRecord("chunk1", []float32{1, 0, 0, 0}, nil),
		vecRecord("chunk2", []float32{0, 1, 0, 0}, nil),
		vecRecord("chunk3", []float32{-1, 0, 0, 0}, nil),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 3, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "chunk1", hits[0].Record.ID)
	assert.Equal(t, "chunk2", hits[1].Record.ID)
	assert.Equal(t, "chunk3", hits[2].Record.ID)

	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-5)
	assert.InDelta(t, 0.0, float64(hits[1].Score), 1e-5)
	assert.InDelta(t, -1.0, float64(hits[2].Score), 1e-5)
}

func TestHNSWIndex_ScoreThresholdAndFilter(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []EmbeddingRecord{
		vecRecord("a", []float32{1, 0, 0, 0}, map[string]string{"source": "pdf"}),
		vecRecord("b", []float32{0.9, 0.1, 0, 0}, map[string]string{"source": "email"}),
		vecRecord("c", []float32{-1, 0, 0, 0}, map[string]string{"source": "pdf"}),
	}))

	threshold := float32(0.5)
	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 10, SearchOptions{
		ScoreThreshold: &threshold,
		Filter:         map[string]string{"source": "pdf"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].Record.ID)
}

func TestHNSWIndex_DimensionMismatch(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	_, err := idx.Search(ctx, []float32{1, 0}, 1, SearchOptions{})
	require.Error(t, err)
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	err = idx.Upsert(ctx, []EmbeddingRecord{vecRecord("x", []float32{1}, nil)})
	require.ErrorAs(t, err, &dimErr)
}

func TestHNSWIndex_GetAndDelete(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []EmbeddingRecord{
		vecRecord("a", []float32{1, 0, 0, 0}, nil),
	}))

	rec, err := idx.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "content a", rec.Content)

	_, err = idx.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, idx.Delete(ctx, []string{"a"}))
	_, err = idx.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)

	// Deleted records must not resurface in search results.
	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 5, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHNSWIndex_ScanPages(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	records := makeRecords(23)
	require.NoError(t, idx.Upsert(ctx, records))

	scanner := NewScanner(10, 0)
	total, partial, err := scanner.CountAll(ctx, idx)
	require.NoError(t, err)
	assert.False(t, partial)
	assert.Equal(t, 23, total)

	// Pages must not overlap and must cover every id exactly once.
	seen := map[string]bool{}
	cursor := ""
	for {
		page, next, err := idx.ScanPage(ctx, cursor, 10)
		require.NoError(t, err)
		for _, rec := range page {
			assert.False(t, seen[rec.ID], "duplicate id %s", rec.ID)
			seen[rec.ID] = true
		}
		if len(page) == 0 || next == "" {
			break
		}
		cursor = next
	}
	assert.Len(t, seen, 23)
}

func TestHNSWIndex_SaveLoad(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []EmbeddingRecord{
		vecRecord("a", []float32{1, 0, 0, 0}, map[string]string{"page": "3"}),
		vecRecord("b", []float32{0, 1, 0, 0}, nil),
	}))

	path := filepath.Join(t.TempDir(), "index.gob")
	require.NoError(t, idx.Save(path))

	loaded, err := LoadHNSWIndex(path)
	require.NoError(t, err)
	defer loaded.Close()

	rec, err := loaded.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "3", rec.MetaValue("page", ""))

	hits, err := loaded.Search(ctx, []float32{0, 1, 0, 0}, 1, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].Record.ID)
}

func TestHNSWIndex_Upsert_ReplacesExisting(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []EmbeddingRecord{
		vecRecord("a", []float32{1, 0, 0, 0}, nil),
	}))
	updated := vecRecord("a", []float32{0, 0, 1, 0}, nil)
	updated.Content = "updated"
	require.NoError(t, idx.Upsert(ctx, []EmbeddingRecord{updated}))

	rec, err := idx.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "updated", rec.Content)

	scanner := NewScanner(10, 0)
	total, _, err := scanner.CountAll(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, 1, total, "replacement must not duplicate the record")
}

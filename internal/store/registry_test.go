package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestRegistry_DocumentLifecycle(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	doc := &Document{
		ID:         "doc-1",
		Source:     "/data/report.pdf",
		Type:       "pdf",
		Collection: "documents",
		ChunkCount: 12,
		SHA256:     "abc123",
		IngestedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, reg.SaveDocument(ctx, doc))

	got, err := reg.GetDocumentBySource(ctx, "/data/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.ID)
	assert.Equal(t, "pdf", got.Type)
	assert.Equal(t, 12, got.ChunkCount)
	assert.Equal(t, "abc123", got.SHA256)

	// Re-ingesting the same document replaces the row.
	doc.ChunkCount = 20
	doc.SHA256 = "def456"
	require.NoError(t, reg.SaveDocument(ctx, doc))

	got, err = reg.GetDocumentBySource(ctx, "/data/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, 20, got.ChunkCount)
	assert.Equal(t, "def456", got.SHA256)

	docs, err := reg.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.NoError(t, reg.DeleteDocument(ctx, "doc-1"))
	_, err = reg.GetDocumentBySource(ctx, "/data/report.pdf")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, reg.SaveDocument(ctx, &Document{
			ID:         id,
			Source:     "/data/" + id + ".json",
			Type:       "json",
			Collection: "documents",
			IngestedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	docs, err := reg.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "new", docs[0].ID)
	assert.Equal(t, "old", docs[2].ID)
}

func TestRegistry_State(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	val, err := reg.GetState(ctx, StateKeyIndexDimension)
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, reg.SetState(ctx, StateKeyIndexDimension, "768"))
	require.NoError(t, reg.SetState(ctx, StateKeyIndexModel, "nomic-embed-text"))

	val, err = reg.GetState(ctx, StateKeyIndexDimension)
	require.NoError(t, err)
	assert.Equal(t, "768", val)

	// Overwrite keeps the latest value.
	require.NoError(t, reg.SetState(ctx, StateKeyIndexDimension, "1536"))
	val, err = reg.GetState(ctx, StateKeyIndexDimension)
	require.NoError(t, err)
	assert.Equal(t, "1536", val)
}

func TestRegistry_ClosedSave(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Close())

	err := reg.SaveDocument(context.Background(), &Document{ID: "x", IngestedAt: time.Now()})
	require.Error(t, err)
}

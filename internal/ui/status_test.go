package ui

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRenderer_Render(t *testing.T) {
	var buf bytes.Buffer
	r := NewStatusRenderer(&buf, true)

	err := r.Render(StatusInfo{
		Collection:       "documents",
		TotalDocuments:   12,
		TotalChunks:      340,
		LastIngested:     time.Now().Add(-2 * time.Hour),
		StorageBackend:   "hnsw",
		StorageSize:      5 * 1024 * 1024,
		EmbedderProvider: "openai",
		EmbedderStatus:   "ready",
		EmbedderModel:    "nomic-embed-text",
		WatcherStatus:    "running",
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Collection: documents")
	assert.Contains(t, out, "Documents:    12")
	assert.Contains(t, out, "Chunks:       340")
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "Backend: hnsw")
	assert.Contains(t, out, "5.0 MB")
	assert.Contains(t, out, "Status:   ready")
	assert.Contains(t, out, "Watcher: running")
}

func TestStatusRenderer_PartialCount(t *testing.T) {
	var buf bytes.Buffer
	r := NewStatusRenderer(&buf, true)

	require.NoError(t, r.Render(StatusInfo{
		Collection:   "documents",
		TotalChunks:  1000,
		PartialCount: true,
	}))

	assert.Contains(t, buf.String(), "1000+ (partial scan)")
}

func TestStatusRenderer_JSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewStatusRenderer(&buf, true)

	require.NoError(t, r.RenderJSON(StatusInfo{Collection: "mail", TotalChunks: 7}))

	var decoded StatusInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "mail", decoded.Collection)
	assert.Equal(t, 7, decoded.TotalChunks)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2*1024*1024))
	assert.Equal(t, "3.0 GB", FormatBytes(3*1024*1024*1024))
}

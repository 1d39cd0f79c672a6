package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStage_Strings(t *testing.T) {
	assert.Equal(t, "Loading", StageLoading.String())
	assert.Equal(t, "Embedding", StageEmbedding.String())
	assert.Equal(t, "LOAD", StageLoading.Icon())
	assert.Equal(t, "DONE", StageComplete.Icon())
	assert.Equal(t, "Unknown", Stage(99).String())
}

func TestPlainRenderer_Progress(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(Config{Output: &buf, NoColor: true})

	r.UpdateProgress(ProgressEvent{Stage: StageEmbedding, Current: 3, Total: 10, CurrentFile: "inbox.json"})
	r.UpdateProgress(ProgressEvent{Stage: StageIndexing, Message: "building keyword index"})
	r.UpdateProgress(ProgressEvent{Stage: StageLoading}) // no total, no message, no output

	out := buf.String()
	assert.Contains(t, out, "[EMBED] 3/10 - inbox.json")
	assert.Contains(t, out, "[INDEX] building keyword index")
	assert.NotContains(t, out, "LOAD")
}

func TestPlainRenderer_Errors(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(Config{Output: &buf, NoColor: true})

	r.AddError(ErrorEvent{File: "bad.pdf", Err: errors.New("unreadable")})
	r.AddError(ErrorEvent{Err: errors.New("slow embedder"), IsWarn: true})

	out := buf.String()
	assert.Contains(t, out, "ERROR: bad.pdf: unreadable")
	assert.Contains(t, out, "WARN: slow embedder")
}

func TestPlainRenderer_Complete(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(Config{Output: &buf, NoColor: true})

	r.Complete(CompletionStats{
		Documents: 4,
		Chunks:    37,
		Skipped:   2,
		Duration:  1500 * time.Millisecond,
		Embedder:  EmbedderInfo{Provider: "openai", Model: "nomic-embed-text", Dimensions: 768},
	})

	out := buf.String()
	assert.Contains(t, out, "Complete: 4 documents, 37 chunks indexed in 1.5s")
	assert.Contains(t, out, "(2 unchanged, skipped)")
	assert.Contains(t, out, "Embedder: openai (nomic-embed-text, 768 dims)")
}

func TestIsTTY_NonFile(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

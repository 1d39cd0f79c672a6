package embed

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder tracks how many texts reach the inner embedder.
type countingEmbedder struct {
	inner *StaticEmbedder

	mu    sync.Mutex
	calls int
	texts int
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{inner: NewStaticEmbedder()}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.calls++
	c.texts++
	c.mu.Unlock()
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls++
	c.texts += len(texts)
	c.mu.Unlock()
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int                    { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelName() string                  { return "counting" }
func (c *countingEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }
func (c *countingEmbedder) Close() error                       { return c.inner.Close() }

func TestCachedEmbedder_HitSkipsInner(t *testing.T) {
	counting := newCountingEmbedder()
	cached := NewCachedEmbedder(counting, 10)
	defer cached.Close()
	ctx := context.Background()

	v1, err := cached.Embed(ctx, "what changed in the latest release")
	require.NoError(t, err)
	v2, err := cached.Embed(ctx, "what changed in the latest release")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, counting.calls)
}

func TestCachedEmbedder_BatchOnlyEmbedsMisses(t *testing.T) {
	counting := newCountingEmbedder()
	cached := NewCachedEmbedder(counting, 10)
	defer cached.Close()
	ctx := context.Background()

	_, err := cached.Embed(ctx, "alpha")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		assert.NotNil(t, v, "missing vector at %d", i)
	}

	// One single embed plus one batch of the two misses.
	assert.Equal(t, 2, counting.calls)
	assert.Equal(t, 3, counting.texts)
}

func TestCachedEmbedder_AllCachedBatch(t *testing.T) {
	counting := newCountingEmbedder()
	cached := NewCachedEmbedder(counting, 10)
	defer cached.Close()
	ctx := context.Background()

	texts := []string{"one", "two"}
	_, err := cached.EmbedBatch(ctx, texts)
	require.NoError(t, err)

	_, err = cached.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	assert.Equal(t, 1, counting.calls)
}

func TestCachedEmbedder_Eviction(t *testing.T) {
	counting := newCountingEmbedder()
	cached := NewCachedEmbedder(counting, 1)
	defer cached.Close()
	ctx := context.Background()

	_, err := cached.Embed(ctx, "first")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "second") // evicts "first"
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "first")
	require.NoError(t, err)

	assert.Equal(t, 3, counting.calls)
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	counting := newCountingEmbedder()
	cached := NewCachedEmbedder(counting, 0)

	assert.Equal(t, StaticDimensions, cached.Dimensions())
	assert.Equal(t, "counting", cached.ModelName())
	assert.Same(t, counting, cached.Inner())
}

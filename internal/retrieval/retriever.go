package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"docrag/internal/embed"
	"docrag/internal/store"
)

// Retriever turns a text query into a ranked result list. Implemented
// by VectorRetriever and KeywordRetriever; the fusion engine treats
// them uniformly.
type Retriever interface {
	// Name identifies the retriever in fused results and failure maps.
	Name() string

	// Search returns at most topK results sorted by descending
	// normalized score, ties broken by chunk id ascending.
	Search(ctx context.Context, query string, topK int, opts Options) ([]Result, error)

	// Healthy reports whether the retriever's backing store is
	// reachable.
	Healthy(ctx context.Context) bool
}

// VectorRetriever wraps one vector index and one embedder.
type VectorRetriever struct {
	name     string
	index    store.VectorIndex
	embedder embed.Embedder
}

var _ Retriever = (*VectorRetriever)(nil)

// NewVectorRetriever creates a retriever over the given index. The
// embedder's dimension must match the index.
func NewVectorRetriever(name string, index store.VectorIndex, embedder embed.Embedder) (*VectorRetriever, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: retriever name is required", ErrInvalidArgument)
	}
	if got, want := embedder.Dimensions(), index.Dimensions(); got != want {
		return nil, fmt.Errorf("embedder dimension %d does not match index dimension %d", got, want)
	}
	return &VectorRetriever{name: name, index: index, embedder: embedder}, nil
}

func (r *VectorRetriever) Name() string { return r.name }

// Search embeds the query and runs a similarity search against the
// index. Scores are rescaled from cosine [-1,1] into [0,1].
func (r *VectorRetriever) Search(ctx context.Context, query string, topK int, opts Options) ([]Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidArgument, topK)
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	return r.searchVector(ctx, vector, topK, opts, "")
}

// SimilarToChunk finds the chunks nearest to an already stored chunk,
// excluding the chunk itself.
func (r *VectorRetriever) SimilarToChunk(ctx context.Context, chunkID string, topK int, opts Options) ([]Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidArgument, topK)
	}

	rec, err := r.index.Get(ctx, chunkID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, chunkID)
		}
		return nil, fmt.Errorf("load chunk %q: %w", chunkID, err)
	}

	// One extra slot because the source chunk matches itself with
	// similarity 1.0.
	results, err := r.searchVector(ctx, rec.Vector, topK+1, opts, chunkID)
	if err != nil {
		return nil, err
	}
	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

// Healthy probes the index with a cheap scan call.
func (r *VectorRetriever) Healthy(ctx context.Context) bool {
	_, _, err := r.index.ScanPage(ctx, "", 1)
	return err == nil
}

func (r *VectorRetriever) searchVector(ctx context.Context, vector []float32, limit int, opts Options, excludeID string) ([]Result, error) {
	storeOpts := store.SearchOptions{Filter: opts.Filter}
	if opts.ScoreThreshold != nil {
		// Caller thresholds are in normalized [0,1] space; the index
		// speaks raw cosine.
		raw := float32(*opts.ScoreThreshold*2 - 1)
		storeOpts.ScoreThreshold = &raw
	}

	hits, err := r.index.Search(ctx, vector, limit, storeOpts)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		if excludeID != "" && hit.Record.ID == excludeID {
			continue
		}
		results = append(results, Result{
			Chunk: hit.Record.Chunk,
			Score: normalizeScore(hit.Score),
		})
	}

	sortResults(results)
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

// normalizeScore rescales cosine similarity from [-1,1] into [0,1],
// clamping values that float arithmetic pushes slightly out of range.
func normalizeScore(cosine float32) float64 {
	s := (float64(cosine) + 1) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// sortResults orders by descending score, ties broken by chunk id
// ascending so equal scores produce a stable output order.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
}

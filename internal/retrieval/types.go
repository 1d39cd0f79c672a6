// Package retrieval implements the retrieval and fusion core: single
// index retrievers, the ensemble fusion engine, and the canonical
// result shape every retrieval path converges on.
package retrieval

import (
	"errors"

	"docrag/internal/store"
)

// Common errors returned by the retrieval core.
var (
	// ErrInvalidArgument indicates bad caller input such as a
	// non-positive topK. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidWeights indicates a negative or otherwise malformed
	// retriever weight configuration.
	ErrInvalidWeights = errors.New("invalid retriever weights")

	// ErrEmbeddingUnavailable indicates the embedding provider failed.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrChunkNotFound indicates a similarity-by-id lookup targeted a
	// chunk that is not in the index.
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrAllRetrieversFailed indicates every configured retriever
	// failed during ensemble fan-out, leaving fusion with no input.
	ErrAllRetrieversFailed = errors.New("all retrievers failed")
)

// Result is the canonical output of any retriever. Raw index hits and
// fused ensemble output both converge on this shape before leaving the
// package, so callers never inspect backend-specific structures.
type Result struct {
	// Chunk is the matched content plus its metadata.
	Chunk store.Chunk

	// Score is the normalized relevance score in [0,1], higher is
	// better.
	Score float64

	// Rank is the 1-based position within the list that returned this
	// result. Reassigned after fusion.
	Rank int

	// Retriever names the retriever(s) that produced this result.
	// Empty for plain single-retriever search.
	Retriever string
}

// Options carries the optional search constraints shared by all
// retrievers.
type Options struct {
	// ScoreThreshold excludes results whose normalized score falls
	// below it. Nil means no threshold.
	ScoreThreshold *float64

	// Filter restricts results to chunks whose metadata contains every
	// listed key/value pair exactly.
	Filter map[string]string
}

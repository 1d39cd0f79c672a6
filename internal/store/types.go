// Package store provides vector index backends (Qdrant, local HNSW), the
// bounded collection scanner, and the SQLite document registry.
// This is the persistence layer for all indexed data.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors for index backends.
var (
	// ErrNotFound is returned when a chunk id has no stored record.
	ErrNotFound = errors.New("chunk not found")

	// ErrIndexUnavailable is returned when the backend cannot be reached.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrIndexClosed is returned on operations after Close.
	ErrIndexClosed = errors.New("index is closed")
)

// ErrDimensionMismatch is returned when a vector's length does not match
// the index dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: index has %d dimensions, got %d", e.Expected, e.Got)
}

// Chunk is a unit of embedded content: the text that was embedded plus
// source-specific metadata (sender, page number, thread id, ...).
type Chunk struct {
	ID       string            // Unique within an index
	ParentID string            // Owning document or email ID
	Content  string            // Text that was embedded
	Metadata map[string]string // Open key-value map, schema-less
}

// MetaValue returns the metadata value for key, or def when the key is
// absent. Metadata is partially populated; callers must not assume keys.
func (c *Chunk) MetaValue(key, def string) string {
	if c.Metadata == nil {
		return def
	}
	if v, ok := c.Metadata[key]; ok {
		return v
	}
	return def
}

// EmbeddingRecord is a Chunk plus the vector it was embedded into.
// Invariant: len(Vector) equals the dimension of the index it is stored in.
type EmbeddingRecord struct {
	Chunk
	Vector    []float32
	Model     string // Embedding model that produced the vector
	CreatedAt time.Time
}

// ScoredRecord is a search hit: a stored record with its backend-native
// similarity. Score is cosine similarity in [-1, 1]; normalization into
// [0, 1] happens in the retrieval layer, not here.
type ScoredRecord struct {
	Record EmbeddingRecord
	Score  float32
}

// SearchOptions restricts a similarity search.
type SearchOptions struct {
	// ScoreThreshold excludes hits below this similarity when non-nil.
	ScoreThreshold *float32

	// Filter keeps only records whose metadata contains every key with
	// exactly the given value. Nil or empty means no filtering.
	Filter map[string]string
}

// MatchesFilter reports whether the chunk's metadata satisfies every
// exact-match constraint in filter.
func MatchesFilter(c *Chunk, filter map[string]string) bool {
	for k, want := range filter {
		if c.MetaValue(k, "") != want {
			return false
		}
	}
	return true
}

// VectorIndex is the contract any vector backend must satisfy: store
// vectors with metadata, search by similarity, and scan all entries.
//
// ScanPage is the only sanctioned way to enumerate an index. Backends
// with opaque cursors silently produce wrong or duplicate results under
// naive offset arithmetic, so no offset-by-count protocol exists here.
type VectorIndex interface {
	// Name returns the collection name this index serves.
	Name() string

	// Dimensions returns the fixed vector dimension of the index.
	Dimensions() int

	// Search returns up to limit records ranked by descending similarity.
	// Fails with ErrIndexUnavailable when the backend cannot be reached
	// and ErrDimensionMismatch when the query vector length is wrong.
	Search(ctx context.Context, vector []float32, limit int, opts SearchOptions) ([]ScoredRecord, error)

	// Get returns the stored record for a chunk id, or ErrNotFound.
	Get(ctx context.Context, id string) (*EmbeddingRecord, error)

	// ScanPage returns one page of records starting at cursor ("" for the
	// first page) plus the cursor for the next page. An empty page with
	// an empty next cursor means the index is exhausted. The cursor is
	// opaque; callers must pass it back verbatim.
	ScanPage(ctx context.Context, cursor string, limit int) ([]EmbeddingRecord, string, error)

	// Upsert inserts records, replacing any with the same chunk id.
	Upsert(ctx context.Context, records []EmbeddingRecord) error

	// Delete removes records by chunk id. Missing ids are ignored.
	Delete(ctx context.Context, ids []string) error

	// Close releases backend resources.
	Close() error
}

package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"docrag/internal/store"
)

// keywordDocument is the shape indexed into Bleve.
type keywordDocument struct {
	Content string `json:"content"`
}

// KeywordRetriever is a BM25 keyword retriever backed by Bleve. It
// complements vector retrievers in an ensemble: exact terms that
// embeddings blur (names, ids, error codes) still rank well here.
// Chunk records are kept alongside the index because Bleve only stores
// what it analyzes.
type KeywordRetriever struct {
	name string

	mu     sync.RWMutex
	index  bleve.Index
	chunks map[string]store.Chunk
	closed bool
}

var _ Retriever = (*KeywordRetriever)(nil)

// NewKeywordRetriever creates a keyword retriever. An empty path keeps
// the index in memory.
func NewKeywordRetriever(name, path string) (*KeywordRetriever, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: retriever name is required", ErrInvalidArgument)
	}

	mapping := bleve.NewIndexMapping()
	var (
		idx bleve.Index
		err error
	)
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create index directory: %w", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	return &KeywordRetriever{
		name:   name,
		index:  idx,
		chunks: make(map[string]store.Chunk),
	}, nil
}

func (k *KeywordRetriever) Name() string { return k.name }

// Index adds chunks to the keyword index, replacing existing entries
// with the same id.
func (k *KeywordRetriever) Index(chunks []store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return fmt.Errorf("keyword retriever is closed")
	}

	batch := k.index.NewBatch()
	for _, chunk := range chunks {
		if err := batch.Index(chunk.ID, keywordDocument{Content: chunk.Content}); err != nil {
			return fmt.Errorf("index chunk %q: %w", chunk.ID, err)
		}
	}
	if err := k.index.Batch(batch); err != nil {
		return fmt.Errorf("apply keyword batch: %w", err)
	}
	for _, chunk := range chunks {
		k.chunks[chunk.ID] = chunk
	}
	return nil
}

// Delete removes chunks from the keyword index.
func (k *KeywordRetriever) Delete(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return fmt.Errorf("keyword retriever is closed")
	}

	batch := k.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := k.index.Batch(batch); err != nil {
		return fmt.Errorf("apply keyword batch: %w", err)
	}
	for _, id := range ids {
		delete(k.chunks, id)
	}
	return nil
}

// Search runs a BM25 match query. BM25 scores are unbounded, so they
// are normalized by the top hit's score to land in [0,1].
func (k *KeywordRetriever) Search(ctx context.Context, query string, topK int, opts Options) ([]Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidArgument, topK)
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, fmt.Errorf("keyword retriever is closed")
	}

	if strings.TrimSpace(query) == "" {
		return []Result{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	// Oversample so metadata filtering still fills topK.
	req := bleve.NewSearchRequest(matchQuery)
	req.Size = topK * 4

	searchResult, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	var maxScore float64
	for _, hit := range searchResult.Hits {
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}

	results := make([]Result, 0, topK)
	for _, hit := range searchResult.Hits {
		chunk, ok := k.chunks[hit.ID]
		if !ok {
			continue
		}
		if !store.MatchesFilter(&chunk, opts.Filter) {
			continue
		}

		score := 0.0
		if maxScore > 0 {
			score = hit.Score / maxScore
		}
		if opts.ScoreThreshold != nil && score < *opts.ScoreThreshold {
			continue
		}

		results = append(results, Result{Chunk: chunk, Score: score})
		if len(results) == topK {
			break
		}
	}

	sortResults(results)
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

// Healthy reports whether the index is open.
func (k *KeywordRetriever) Healthy(_ context.Context) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return !k.closed
}

// Count returns the number of indexed chunks.
func (k *KeywordRetriever) Count() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.chunks)
}

// Close closes the underlying Bleve index.
func (k *KeywordRetriever) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.index.Close()
}

package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"github.com/gofrs/flock"
)

// HNSWConfig configures the local in-process vector index.
type HNSWConfig struct {
	// Collection is the index name.
	Collection string

	// Dimensions is the fixed vector dimension.
	Dimensions int

	// M is the HNSW max connections per layer (default 16).
	M int

	// EfSearch is the query-time search width (default 40).
	EfSearch int
}

// HNSWIndex implements VectorIndex with coder/hnsw, a pure Go HNSW graph.
// Records are kept alongside the graph so Get and ScanPage work without a
// second store. Scan order is ascending chunk id, which makes the cursor
// a plain "resume after this id" token that stays valid across upserts.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config HNSWConfig

	records map[string]EmbeddingRecord
	idMap   map[string]uint64 // chunk id -> graph key
	keyMap  map[uint64]string // graph key -> chunk id
	nextKey uint64

	closed bool
}

var _ VectorIndex = (*HNSWIndex)(nil)

// hnswSnapshot is the gob persistence format. The graph is rebuilt from
// records on load.
type hnswSnapshot struct {
	Config  HNSWConfig
	Records map[string]EmbeddingRecord
}

// NewHNSWIndex creates an empty local index.
func NewHNSWIndex(cfg HNSWConfig) (*HNSWIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("hnsw index: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Collection == "" {
		cfg.Collection = "default"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 40
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch

	return &HNSWIndex{
		graph:   graph,
		config:  cfg,
		records: make(map[string]EmbeddingRecord),
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
	}, nil
}

func (s *HNSWIndex) Name() string    { return s.config.Collection }
func (s *HNSWIndex) Dimensions() int { return s.config.Dimensions }

// Upsert inserts records, replacing existing ids. Replacement uses lazy
// deletion: the old graph node is orphaned rather than removed, because
// deleting the last node breaks the coder/hnsw graph.
func (s *HNSWIndex) Upsert(ctx context.Context, records []EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrIndexClosed
	}

	for i := range records {
		if len(records[i].Vector) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(records[i].Vector)}
		}
	}

	for _, rec := range records {
		if oldKey, ok := s.idMap[rec.ID]; ok {
			delete(s.keyMap, oldKey)
		}
		key := s.nextKey
		s.nextKey++

		s.graph.Add(hnsw.MakeNode(key, normalize32(rec.Vector)))
		s.idMap[rec.ID] = key
		s.keyMap[key] = rec.ID
		s.records[rec.ID] = rec
	}
	return nil
}

// Search finds the nearest records by cosine similarity. The graph is
// oversampled when a filter or threshold applies, then exact similarities
// are computed against the stored vectors.
func (s *HNSWIndex) Search(ctx context.Context, vector []float32, limit int, opts SearchOptions) ([]ScoredRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("search limit must be positive, got %d", limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrIndexClosed
	}
	if len(vector) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vector)}
	}
	if len(s.records) == 0 {
		return []ScoredRecord{}, nil
	}

	k := limit
	if len(opts.Filter) > 0 || opts.ScoreThreshold != nil {
		k = limit * 4
	}
	if k > len(s.records) {
		k = len(s.records)
	}

	query := normalize32(vector)
	nodes := s.graph.Search(query, k)

	results := make([]ScoredRecord, 0, len(nodes))
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue // orphaned by lazy deletion
		}
		rec := s.records[id]
		score := cosine32(query, normalize32(rec.Vector))
		if opts.ScoreThreshold != nil && score < *opts.ScoreThreshold {
			continue
		}
		if !MatchesFilter(&rec.Chunk, opts.Filter) {
			continue
		}
		results = append(results, ScoredRecord{Record: rec, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.ID < results[j].Record.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Get returns the stored record for id.
func (s *HNSWIndex) Get(ctx context.Context, id string) (*EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrIndexClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", id, ErrNotFound)
	}
	return &rec, nil
}

// ScanPage returns records in ascending id order. The cursor is the last
// id of the previous page; the next page resumes strictly after it.
func (s *HNSWIndex) ScanPage(ctx context.Context, cursor string, limit int) ([]EmbeddingRecord, string, error) {
	if limit <= 0 {
		limit = DefaultScanPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, "", ErrIndexClosed
	}

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		if cursor == "" || id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	if len(ids) == 0 {
		return []EmbeddingRecord{}, "", nil
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	page := make([]EmbeddingRecord, len(ids))
	for i, id := range ids {
		page[i] = s.records[id]
	}

	next := ""
	if len(page) == limit {
		next = page[len(page)-1].ID
	}
	return page, next, nil
}

// Delete removes records by id. Graph nodes are orphaned (lazy deletion)
// and filtered out during search.
func (s *HNSWIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrIndexClosed
	}
	for _, id := range ids {
		if key, ok := s.idMap[id]; ok {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
		delete(s.records, id)
	}
	return nil
}

// Save persists the index snapshot to path. A sibling lock file guards
// against concurrent writers from another process.
func (s *HNSWIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrIndexClosed
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock index file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}

	snap := hnswSnapshot{Config: s.config, Records: s.records}
	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadHNSWIndex restores an index from a snapshot written by Save.
func LoadHNSWIndex(path string) (*HNSWIndex, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock index file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	var snap hnswSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	idx, err := NewHNSWIndex(snap.Config)
	if err != nil {
		return nil, err
	}
	for _, rec := range snap.Records {
		if err := idx.Upsert(context.Background(), []EmbeddingRecord{rec}); err != nil {
			return nil, fmt.Errorf("rebuild graph: %w", err)
		}
	}
	return idx, nil
}

// Close releases the graph.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.records = nil
	s.idMap = nil
	s.keyMap = nil
	return nil
}

// normalize32 returns v scaled to unit length.
func normalize32(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	mag := math.Sqrt(sum)
	if mag == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}

// cosine32 computes the dot product of two unit vectors.
func cosine32(a, b []float32) float32 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot)
}

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Reserved payload keys. Everything else in a point's payload is treated
// as chunk metadata, mirroring how records are flattened on upsert.
const (
	payloadChunkID   = "chunk_id"
	payloadParentID  = "parent_id"
	payloadContent   = "content"
	payloadModel     = "model"
	payloadCreatedAt = "created_at"
)

// qdrantNamespace derives deterministic point UUIDs from chunk ids.
// Qdrant only accepts unsigned ints or UUIDs as point ids.
var qdrantNamespace = uuid.MustParse("8aae5bd0-4242-4e57-8f36-d36a35a544ab")

// QdrantConfig configures the Qdrant REST backend.
type QdrantConfig struct {
	URL        string        // e.g. http://localhost:6333
	APIKey     string        // optional, sent as api-key header
	Collection string        // collection name
	Dimensions int           // fixed vector dimension
	Timeout    time.Duration // per-request timeout (default 15s)
}

// QdrantIndex implements VectorIndex against Qdrant's REST API.
// Cosine distance is assumed; the collection is created if missing.
//
// Scanning uses the points/scroll endpoint with its next_page_offset
// token as the opaque cursor. Offsets are never synthesized client-side:
// Qdrant reinterprets numeric offsets as point ids, which under naive
// offset arithmetic repeats or skips pages.
type QdrantIndex struct {
	config QdrantConfig
	client *http.Client
}

var _ VectorIndex = (*QdrantIndex)(nil)

// NewQdrantIndex creates the client and ensures the collection exists.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("qdrant index: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant index: collection name is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	idx := &QdrantIndex{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (q *QdrantIndex) Name() string    { return q.config.Collection }
func (q *QdrantIndex) Dimensions() int { return q.config.Dimensions }

// ensureCollection creates the collection with cosine distance. Qdrant
// answers 200 when the collection already exists with the same schema.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     q.config.Dimensions,
			"distance": "Cosine",
		},
	}
	return q.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", q.config.Collection), body, nil)
}

// Upsert writes records as points with flattened payloads, waiting for
// the operation to be applied.
func (q *QdrantIndex) Upsert(ctx context.Context, records []EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]map[string]any, len(records))
	for i, rec := range records {
		if len(rec.Vector) != q.config.Dimensions {
			return ErrDimensionMismatch{Expected: q.config.Dimensions, Got: len(rec.Vector)}
		}

		payload := map[string]any{
			payloadChunkID:   rec.ID,
			payloadParentID:  rec.ParentID,
			payloadContent:   rec.Content,
			payloadModel:     rec.Model,
			payloadCreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		// Metadata flattened to the top level so Qdrant filters can
		// match it directly. Reserved keys win on collision.
		for k, v := range rec.Metadata {
			if _, reserved := payload[k]; !reserved {
				payload[k] = v
			}
		}

		points[i] = map[string]any{
			"id":      q.pointID(rec.ID),
			"vector":  rec.Vector,
			"payload": payload,
		}
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", q.config.Collection)
	return q.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil)
}

// Search runs a similarity query with optional threshold and exact-match
// payload filter.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, limit int, opts SearchOptions) ([]ScoredRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("search limit must be positive, got %d", limit)
	}
	if len(vector) != q.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: q.config.Dimensions, Got: len(vector)}
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if opts.ScoreThreshold != nil {
		req["score_threshold"] = *opts.ScoreThreshold
	}
	if len(opts.Filter) > 0 {
		must := make([]map[string]any, 0, len(opts.Filter))
		for k, v := range opts.Filter {
			must = append(must, map[string]any{
				"key":   k,
				"match": map[string]any{"value": v},
			})
		}
		req["filter"] = map[string]any{"must": must}
	}

	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", q.config.Collection)
	if err := q.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	results := make([]ScoredRecord, 0, len(resp.Result))
	for _, p := range resp.Result {
		results = append(results, ScoredRecord{Record: p.record(), Score: p.Score})
	}
	return results, nil
}

// Get retrieves a single record by chunk id.
func (q *QdrantIndex) Get(ctx context.Context, id string) (*EmbeddingRecord, error) {
	req := map[string]any{
		"ids":          []string{q.pointID(id)},
		"with_payload": true,
		"with_vector":  true,
	}
	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points", q.config.Collection)
	if err := q.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result) == 0 {
		return nil, fmt.Errorf("get %q: %w", id, ErrNotFound)
	}
	rec := resp.Result[0].record()
	return &rec, nil
}

// ScanPage scrolls one page. The cursor is the JSON encoding of Qdrant's
// next_page_offset (a point id, numeric or UUID), passed back verbatim.
func (q *QdrantIndex) ScanPage(ctx context.Context, cursor string, limit int) ([]EmbeddingRecord, string, error) {
	if limit <= 0 {
		limit = DefaultScanPageSize
	}

	req := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if cursor != "" {
		req["offset"] = json.RawMessage(cursor)
	}

	var resp struct {
		Result struct {
			Points         []qdrantPoint   `json:"points"`
			NextPageOffset json.RawMessage `json:"next_page_offset"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/scroll", q.config.Collection)
	if err := q.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, "", err
	}

	page := make([]EmbeddingRecord, len(resp.Result.Points))
	for i, p := range resp.Result.Points {
		page[i] = p.record()
	}

	next := ""
	if len(resp.Result.NextPageOffset) > 0 && string(resp.Result.NextPageOffset) != "null" {
		next = string(resp.Result.NextPageOffset)
	}
	return page, next, nil
}

// Delete removes points by chunk id.
func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]string, len(ids))
	for i, id := range ids {
		pointIDs[i] = q.pointID(id)
	}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", q.config.Collection)
	return q.do(ctx, http.MethodPost, path, map[string]any{"points": pointIDs}, nil)
}

// Close is a no-op for the REST client.
func (q *QdrantIndex) Close() error {
	q.client.CloseIdleConnections()
	return nil
}

// pointID derives the deterministic Qdrant point UUID for a chunk id.
func (q *QdrantIndex) pointID(chunkID string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(chunkID)).String()
}

// do executes one JSON request against the Qdrant API. Transport-level
// failures surface as ErrIndexUnavailable so retrieval can degrade.
func (q *QdrantIndex) do(ctx context.Context, method, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal qdrant request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.config.URL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.config.APIKey != "" {
		req.Header.Set("api-key", q.config.APIKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w: %v", method, path, ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("qdrant %s %s: %w: status %s", method, path, ErrIndexUnavailable, resp.Status)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s failed: %s", method, path, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return nil
}

// qdrantPoint is the wire shape shared by search, retrieve and scroll.
type qdrantPoint struct {
	Score   float32        `json:"score"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// record rebuilds an EmbeddingRecord from a point payload. Metadata keys
// are everything that is not reserved; values use safe string coercion
// because payloads from older writers may be partially populated.
func (p *qdrantPoint) record() EmbeddingRecord {
	rec := EmbeddingRecord{
		Chunk: Chunk{
			ID:       payloadString(p.Payload, payloadChunkID),
			ParentID: payloadString(p.Payload, payloadParentID),
			Content:  payloadString(p.Payload, payloadContent),
			Metadata: map[string]string{},
		},
		Vector: p.Vector,
		Model:  payloadString(p.Payload, payloadModel),
	}
	if ts := payloadString(p.Payload, payloadCreatedAt); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.CreatedAt = t
		}
	}

	reserved := map[string]bool{
		payloadChunkID: true, payloadParentID: true, payloadContent: true,
		payloadModel: true, payloadCreatedAt: true,
	}
	for k, v := range p.Payload {
		if reserved[k] {
			continue
		}
		switch val := v.(type) {
		case string:
			rec.Metadata[k] = val
		case float64:
			rec.Metadata[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			rec.Metadata[k] = strconv.FormatBool(val)
		}
	}
	return rec
}

// payloadString reads a string payload field, tolerating missing keys.
func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

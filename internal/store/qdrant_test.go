package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newQdrantServer fakes the subset of the Qdrant REST API the index uses.
func newQdrantServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request) bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Collection creation happens in NewQdrantIndex for every test.
		if r.Method == http.MethodPut && r.URL.Path == "/collections/test" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"result": true, "status": "ok"}`))
			return
		}
		if handler != nil && handler(w, r) {
			return
		}
		t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))
}

func newTestQdrant(t *testing.T, srv *httptest.Server) *QdrantIndex {
	t.Helper()
	idx, err := NewQdrantIndex(context.Background(), QdrantConfig{
		URL:        srv.URL,
		Collection: "test",
		Dimensions: 4,
	})
	require.NoError(t, err)
	return idx
}

func TestQdrantIndex_Search(t *testing.T) {
	var captured map[string]any
	srv := newQdrantServer(t, func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path != "/collections/test/points/search" {
			return false
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{
					"score":  0.92,
					"vector": []float32{1, 0, 0, 0},
					"payload": map[string]any{
						"chunk_id":  "c1",
						"parent_id": "doc-1",
						"content":   "hello world",
						"model":     "text-embedding-ada-002",
						"sender":    "alice@example.com",
						"page":      float64(7),
					},
				},
			},
		})
		return true
	})
	defer srv.Close()

	idx := newTestQdrant(t, srv)
	threshold := float32(0.25)
	hits, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5, SearchOptions{
		ScoreThreshold: &threshold,
		Filter:         map[string]string{"sender": "alice@example.com"},
	})
	require.NoError(t, err)

	// Request must carry threshold and exact-match filter.
	assert.Equal(t, float64(5), captured["limit"])
	assert.InDelta(t, 0.25, captured["score_threshold"].(float64), 1e-6)
	require.Contains(t, captured, "filter")

	require.Len(t, hits, 1)
	rec := hits[0].Record
	assert.Equal(t, "c1", rec.ID)
	assert.Equal(t, "doc-1", rec.ParentID)
	assert.Equal(t, "hello world", rec.Content)
	assert.Equal(t, "alice@example.com", rec.MetaValue("sender", ""))
	assert.Equal(t, "7", rec.MetaValue("page", ""))
	assert.InDelta(t, 0.92, float64(hits[0].Score), 1e-6)
}

func TestQdrantIndex_ScanPage_CursorPassthrough(t *testing.T) {
	var offsets []json.RawMessage
	page := 0
	srv := newQdrantServer(t, func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path != "/collections/test/points/scroll" {
			return false
		}
		var req struct {
			Offset json.RawMessage `json:"offset"`
			Limit  int             `json:"limit"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		offsets = append(offsets, req.Offset)

		resp := map[string]any{"result": map[string]any{
			"points": []map[string]any{
				{"payload": map[string]any{"chunk_id": "p" + string(rune('0'+page))}, "vector": []float32{1, 0, 0, 0}},
			},
			"next_page_offset": nil,
		}}
		if page == 0 {
			// Numeric offsets must survive the round trip untouched.
			resp["result"].(map[string]any)["next_page_offset"] = 42
		}
		page++
		_ = json.NewEncoder(w).Encode(resp)
		return true
	})
	defer srv.Close()

	idx := newTestQdrant(t, srv)
	ctx := context.Background()

	records, next, err := idx.ScanPage(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "42", next)

	_, next, err = idx.ScanPage(ctx, next, 10)
	require.NoError(t, err)
	assert.Empty(t, next)

	require.Len(t, offsets, 2)
	assert.Nil(t, offsets[0])
	assert.Equal(t, "42", string(offsets[1]))
}

func TestQdrantIndex_Get_NotFound(t *testing.T) {
	srv := newQdrantServer(t, func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path != "/collections/test/points" {
			return false
		}
		_, _ = w.Write([]byte(`{"result": []}`))
		return true
	})
	defer srv.Close()

	idx := newTestQdrant(t, srv)
	_, err := idx.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestQdrantIndex_Unavailable(t *testing.T) {
	srv := newQdrantServer(t, nil)
	idx := newTestQdrant(t, srv)
	srv.Close() // backend goes away after setup

	_, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5, SearchOptions{})
	require.ErrorIs(t, err, ErrIndexUnavailable)
}

func TestQdrantIndex_Upsert_DimensionCheck(t *testing.T) {
	srv := newQdrantServer(t, nil)
	defer srv.Close()

	idx := newTestQdrant(t, srv)
	err := idx.Upsert(context.Background(), []EmbeddingRecord{
		{Chunk: Chunk{ID: "a"}, Vector: []float32{1, 0}},
	})
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
}

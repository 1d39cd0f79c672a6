package store

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScanIndex simulates a cursor-based backend. Cursors are internal
// positions encoded as strings, which is exactly what the scanner must
// treat as opaque.
type fakeScanIndex struct {
	records []EmbeddingRecord

	// extraEmptyPage makes the backend signal exhaustion with one final
	// empty page instead of an empty next cursor on the last data page.
	extraEmptyPage bool

	// neverExhaust simulates a broken backend that always returns a full
	// page with a live cursor.
	neverExhaust bool

	calls int
}

func (f *fakeScanIndex) Name() string    { return "fake" }
func (f *fakeScanIndex) Dimensions() int { return 4 }

func (f *fakeScanIndex) ScanPage(ctx context.Context, cursor string, limit int) ([]EmbeddingRecord, string, error) {
	f.calls++

	if f.neverExhaust {
		page := make([]EmbeddingRecord, limit)
		for i := range page {
			page[i] = makeRecord(fmt.Sprintf("loop-%d", i), nil)
		}
		return page, "stuck", nil
	}

	pos := 0
	if cursor != "" {
		pos, _ = strconv.Atoi(cursor)
	}
	if pos >= len(f.records) {
		return []EmbeddingRecord{}, "", nil
	}

	end := pos + limit
	if end > len(f.records) {
		end = len(f.records)
	}
	page := f.records[pos:end]

	next := ""
	if end < len(f.records) || (f.extraEmptyPage && end == len(f.records)) {
		next = strconv.Itoa(end)
	}
	return page, next, nil
}

func (f *fakeScanIndex) Search(ctx context.Context, vector []float32, limit int, opts SearchOptions) ([]ScoredRecord, error) {
	return nil, nil
}
func (f *fakeScanIndex) Get(ctx context.Context, id string) (*EmbeddingRecord, error) {
	return nil, ErrNotFound
}
func (f *fakeScanIndex) Upsert(ctx context.Context, records []EmbeddingRecord) error { return nil }
func (f *fakeScanIndex) Delete(ctx context.Context, ids []string) error              { return nil }
func (f *fakeScanIndex) Close() error                                                { return nil }

func makeRecord(id string, meta map[string]string) EmbeddingRecord {
	return EmbeddingRecord{
		Chunk:  Chunk{ID: id, ParentID: "doc-1", Content: "content " + id, Metadata: meta},
		Vector: []float32{1, 0, 0, 0},
		Model:  "test-model",
	}
}

func makeRecords(n int) []EmbeddingRecord {
	records := make([]EmbeddingRecord, n)
	for i := range records {
		records[i] = makeRecord(fmt.Sprintf("chunk-%04d", i), nil)
	}
	return records
}

func TestScanner_CountAll_PageMath(t *testing.T) {
	const pageSize = 10

	for _, n := range []int{0, 1, pageSize, pageSize + 1, 5 * pageSize} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			idx := &fakeScanIndex{records: makeRecords(n)}
			scanner := NewScanner(pageSize, 0)

			total, partial, err := scanner.CountAll(context.Background(), idx)
			require.NoError(t, err)
			assert.False(t, partial)
			assert.Equal(t, n, total)

			expected := (n + pageSize - 1) / pageSize
			if expected == 0 {
				expected = 1 // empty index still takes one probe
			}
			assert.Equal(t, expected, idx.calls)
		})
	}
}

func TestScanner_CountAll_ExtraEmptyPage(t *testing.T) {
	const pageSize = 10
	n := 3 * pageSize

	idx := &fakeScanIndex{records: makeRecords(n), extraEmptyPage: true}
	scanner := NewScanner(pageSize, 0)

	total, partial, err := scanner.CountAll(context.Background(), idx)
	require.NoError(t, err)
	assert.False(t, partial)
	assert.Equal(t, n, total)
	assert.Equal(t, n/pageSize+1, idx.calls, "exhaustion via one extra empty page")
}

func TestScanner_CountAll_PathologicalBackendTerminates(t *testing.T) {
	idx := &fakeScanIndex{neverExhaust: true}
	scanner := NewScanner(5, 20)

	total, partial, err := scanner.CountAll(context.Background(), idx)
	require.NoError(t, err)
	assert.True(t, partial, "broken cursor contract must surface as a partial count")
	assert.Equal(t, 20*5, total)
	assert.Equal(t, 20, idx.calls, "must stop exactly at the iteration cap")
}

func TestScanner_ListAll_Window(t *testing.T) {
	idx := &fakeScanIndex{records: makeRecords(25)}
	scanner := NewScanner(10, 0)

	chunks, hasMore, partial, err := scanner.ListAll(context.Background(), idx, 10, 20)
	require.NoError(t, err)
	assert.False(t, partial)
	assert.False(t, hasMore)
	require.Len(t, chunks, 5)
	assert.Equal(t, "chunk-0020", chunks[0].ID)

	chunks, hasMore, _, err = scanner.ListAll(context.Background(), idx, 10, 0)
	require.NoError(t, err)
	assert.True(t, hasMore)
	assert.Len(t, chunks, 10)
}

func TestScanner_ListAll_OffsetPastEnd(t *testing.T) {
	idx := &fakeScanIndex{records: makeRecords(5)}
	scanner := NewScanner(10, 0)

	chunks, hasMore, _, err := scanner.ListAll(context.Background(), idx, 10, 100)
	require.NoError(t, err)
	assert.False(t, hasMore)
	assert.Empty(t, chunks)
}

func TestScanner_ListAll_NegativeArgs(t *testing.T) {
	idx := &fakeScanIndex{records: makeRecords(5)}
	scanner := NewScanner(10, 0)

	_, _, _, err := scanner.ListAll(context.Background(), idx, -1, 0)
	require.Error(t, err)
}

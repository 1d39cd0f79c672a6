package store

import (
	"context"
	"fmt"
	"log/slog"
)

// Scanner defaults.
const (
	// DefaultScanPageSize is the page size requested from the backend.
	DefaultScanPageSize = 100

	// DefaultMaxScanIterations bounds a scan. A backend that violates its
	// cursor contract (never signalling exhaustion) would otherwise loop
	// forever; stopping with a partial total is the lesser failure.
	DefaultMaxScanIterations = 1000
)

// Scanner drives VectorIndex.ScanPage to completion safely. It is the
// sequential counterpart to the concurrent retrieval path: each page
// depends on the cursor from the previous one, so it cannot fan out.
type Scanner struct {
	// PageSize is the per-call page size (default 100).
	PageSize int

	// MaxIterations caps the number of ScanPage calls (default 1000).
	MaxIterations int
}

// NewScanner returns a Scanner with defaults applied.
func NewScanner(pageSize, maxIterations int) *Scanner {
	if pageSize <= 0 {
		pageSize = DefaultScanPageSize
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxScanIterations
	}
	return &Scanner{PageSize: pageSize, MaxIterations: maxIterations}
}

// CountAll counts every record in the index by walking its scan cursor.
// When the iteration cap is hit before the backend signals exhaustion,
// the partial total is returned with partial=true rather than an error.
//
// Backend "fast counts" are deliberately not used: they can disagree with
// scan semantics, and the scan is what listing is built on.
func (s *Scanner) CountAll(ctx context.Context, idx VectorIndex) (total int, partial bool, err error) {
	err = s.scan(ctx, idx, func(page []EmbeddingRecord) {
		total += len(page)
	}, &partial)
	if err != nil {
		return 0, false, err
	}
	return total, partial, nil
}

// ListAll returns the window [offset, offset+limit) of chunks from a full
// scan of the index. Offset and limit are a caller-facing convenience;
// they are never passed to the backend's scan call.
func (s *Scanner) ListAll(ctx context.Context, idx VectorIndex, limit, offset int) (chunks []Chunk, hasMore bool, partial bool, err error) {
	if limit < 0 || offset < 0 {
		return nil, false, false, fmt.Errorf("negative limit or offset: limit=%d offset=%d", limit, offset)
	}

	var all []Chunk
	err = s.scan(ctx, idx, func(page []EmbeddingRecord) {
		for i := range page {
			all = append(all, page[i].Chunk)
		}
	}, &partial)
	if err != nil {
		return nil, false, false, err
	}

	if offset >= len(all) {
		return []Chunk{}, false, partial, nil
	}
	end := offset + limit
	if limit == 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], end < len(all), partial, nil
}

// scan walks the cursor chain, invoking visit once per page.
// Termination: empty page, empty next cursor, or the iteration cap.
func (s *Scanner) scan(ctx context.Context, idx VectorIndex, visit func([]EmbeddingRecord), partial *bool) error {
	cursor := ""
	for iterations := 0; ; iterations++ {
		if iterations >= s.MaxIterations {
			slog.Warn("scan hit iteration cap, returning partial results",
				slog.String("collection", idx.Name()),
				slog.Int("iterations", iterations))
			*partial = true
			return nil
		}

		page, next, err := idx.ScanPage(ctx, cursor, s.PageSize)
		if err != nil {
			return fmt.Errorf("scan %s: %w", idx.Name(), err)
		}
		visit(page)

		if len(page) == 0 || next == "" {
			return nil
		}
		cursor = next
	}
}

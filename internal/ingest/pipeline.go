package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"docrag/internal/embed"
	"docrag/internal/retrieval"
	"docrag/internal/store"
)

// DefaultWorkers bounds concurrent file ingestion.
const DefaultWorkers = 4

// Pipeline drives load, chunk, embed and store for a set of sources.
type Pipeline struct {
	index    store.VectorIndex
	embedder embed.Embedder
	chunker  Chunker

	// Optional collaborators.
	keyword  *retrieval.KeywordRetriever
	registry *store.Registry
	web      *WebLoader

	workers int
	logger  *slog.Logger
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithKeywordIndex mirrors ingested chunks into a keyword retriever.
func WithKeywordIndex(k *retrieval.KeywordRetriever) PipelineOption {
	return func(p *Pipeline) { p.keyword = k }
}

// WithRegistry records ingested documents and enforces embedder
// consistency across runs.
func WithRegistry(r *store.Registry) PipelineOption {
	return func(p *Pipeline) { p.registry = r }
}

// WithWorkers sets the number of files ingested concurrently.
func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(index store.VectorIndex, embedder embed.Embedder, chunker Chunker, opts ...PipelineOption) (*Pipeline, error) {
	if got, want := embedder.Dimensions(), index.Dimensions(); got != want {
		return nil, fmt.Errorf("embedder dimension %d does not match index dimension %d", got, want)
	}
	p := &Pipeline{
		index:    index,
		embedder: embedder,
		chunker:  chunker,
		web:      NewWebLoader(),
		workers:  DefaultWorkers,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Report summarizes one ingestion run.
type Report struct {
	Documents int
	Chunks    int
	Skipped   int
	Failures  map[string]error
}

// IngestFiles ingests the given paths concurrently. A failing file is
// recorded in the report, not fatal to the run.
func (p *Pipeline) IngestFiles(ctx context.Context, paths []string) (*Report, error) {
	if err := p.checkEmbedderConsistency(ctx); err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		report = &Report{Failures: make(map[string]error)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			docs, chunks, skipped, err := p.ingestFile(gctx, path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.logger.Warn("ingest failed", slog.String("path", path), slog.Any("error", err))
				report.Failures[path] = err
				return nil
			}
			if skipped {
				report.Skipped++
				return nil
			}
			report.Documents += docs
			report.Chunks += chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, ctx.Err()
}

// IngestURL fetches and ingests one web page.
func (p *Pipeline) IngestURL(ctx context.Context, url string) (*Report, error) {
	if err := p.checkEmbedderConsistency(ctx); err != nil {
		return nil, err
	}

	docs, err := p.web.Load(ctx, url)
	if err != nil {
		return nil, err
	}
	chunks, err := p.storeDocuments(ctx, docs, url, TypeWeb, "")
	if err != nil {
		return nil, err
	}
	return &Report{Documents: len(docs), Chunks: chunks, Failures: map[string]error{}}, nil
}

// ingestFile runs one file through the pipeline. Returns skipped=true
// when the registry shows an unchanged content hash.
func (p *Pipeline) ingestFile(ctx context.Context, path string) (docs, chunks int, skipped bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, false, err
	}
	hash := ContentHash(data)

	if p.registry != nil {
		existing, regErr := p.registry.GetDocumentBySource(ctx, path)
		if regErr == nil && existing.SHA256 == hash {
			p.logger.Debug("unchanged, skipping", slog.String("path", path))
			return 0, 0, true, nil
		}
	}

	loaded, err := LoadFile(path)
	if err != nil {
		return 0, 0, false, err
	}

	stored, err := p.storeDocuments(ctx, loaded, path, loaded[0].Type, hash)
	if err != nil {
		return 0, 0, false, err
	}
	return len(loaded), stored, false, nil
}

// storeDocuments chunks, embeds and stores documents, then mirrors the
// chunks into the keyword index and records the source in the registry.
func (p *Pipeline) storeDocuments(ctx context.Context, docs []Document, source, docType, hash string) (int, error) {
	var allChunks []store.Chunk
	for _, doc := range docs {
		allChunks = append(allChunks, p.chunker.Split(doc)...)
	}
	if len(allChunks) == 0 {
		return 0, ErrEmptyDocument
	}

	texts := make([]string, len(allChunks))
	for i, chunk := range allChunks {
		texts[i] = chunk.Content
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", source, err)
	}

	now := time.Now().UTC()
	records := make([]store.EmbeddingRecord, len(allChunks))
	for i, chunk := range allChunks {
		records[i] = store.EmbeddingRecord{
			Chunk:     chunk,
			Vector:    vectors[i],
			Model:     p.embedder.ModelName(),
			CreatedAt: now,
		}
	}
	if err := p.index.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("store %s: %w", source, err)
	}

	if p.keyword != nil {
		if err := p.keyword.Index(allChunks); err != nil {
			return 0, fmt.Errorf("keyword index %s: %w", source, err)
		}
	}

	if p.registry != nil {
		err := p.registry.SaveDocument(ctx, &store.Document{
			ID:         DocumentID(source),
			Source:     source,
			Type:       docType,
			Collection: p.index.Name(),
			ChunkCount: len(allChunks),
			SHA256:     hash,
			IngestedAt: now,
		})
		if err != nil {
			return 0, err
		}
	}

	p.logger.Info("ingested",
		slog.String("source", source),
		slog.Int("documents", len(docs)),
		slog.Int("chunks", len(allChunks)))
	return len(allChunks), nil
}

// RemoveSource deletes every chunk ingested from a source path or URL,
// found by scanning the index for matching source metadata.
func (p *Pipeline) RemoveSource(ctx context.Context, source string) error {
	scanner := store.NewScanner(0, 0)
	chunks, _, partial, err := scanner.ListAll(ctx, p.index, 0, 0)
	if err != nil {
		return fmt.Errorf("scan for %s: %w", source, err)
	}
	if partial {
		p.logger.Warn("scan incomplete, removal may leave chunks behind", slog.String("source", source))
	}

	var ids []string
	for _, chunk := range chunks {
		if chunk.MetaValue(MetaSource, "") == source {
			ids = append(ids, chunk.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	if err := p.index.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete %s: %w", source, err)
	}
	if p.keyword != nil {
		if err := p.keyword.Delete(ids); err != nil {
			return err
		}
	}
	if p.registry != nil {
		if err := p.registry.DeleteDocument(ctx, DocumentID(source)); err != nil {
			return err
		}
	}

	p.logger.Info("removed source", slog.String("source", source), slog.Int("chunks", len(ids)))
	return nil
}

// checkEmbedderConsistency refuses to mix embedding models within one
// index. The first ingest pins the model and dimension in registry
// state.
func (p *Pipeline) checkEmbedderConsistency(ctx context.Context) error {
	if p.registry == nil {
		return nil
	}

	dim, err := p.registry.GetState(ctx, store.StateKeyIndexDimension)
	if err != nil {
		return err
	}
	model, err := p.registry.GetState(ctx, store.StateKeyIndexModel)
	if err != nil {
		return err
	}

	wantDim := strconv.Itoa(p.embedder.Dimensions())
	if dim == "" {
		if err := p.registry.SetState(ctx, store.StateKeyIndexDimension, wantDim); err != nil {
			return err
		}
		return p.registry.SetState(ctx, store.StateKeyIndexModel, p.embedder.ModelName())
	}
	if dim != wantDim {
		return fmt.Errorf("index was built with dimension %s, embedder produces %s", dim, wantDim)
	}
	if model != "" && model != p.embedder.ModelName() {
		return fmt.Errorf("index was built with model %q, refusing to mix with %q", model, p.embedder.ModelName())
	}
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"docrag/internal/config"
	"docrag/internal/embed"
	"docrag/internal/ingest"
	"docrag/internal/retrieval"
	"docrag/internal/store"
)

// app holds the wired components shared by the CLI commands. Commands
// open only what they need via the open* helpers and must call Close.
type app struct {
	cfg       *config.Config
	embedder  embed.Embedder
	index     store.VectorIndex
	keyword   *retrieval.KeywordRetriever
	registry  *store.Registry
	retriever *retrieval.VectorRetriever
	ensemble  *retrieval.Ensemble
	pipeline  *ingest.Pipeline
	scanner   *store.Scanner

	hnswPath string // non-empty when the local backend needs a save on close
}

func (a *app) vectorPath() string  { return filepath.Join(a.cfg.Storage.DataDir, "vectors.hnsw") }
func (a *app) keywordPath() string { return filepath.Join(a.cfg.Storage.DataDir, "keyword.bleve") }
func (a *app) registryPath() string {
	return filepath.Join(a.cfg.Storage.DataDir, "registry.db")
}

// openApp wires embedder, indices, registry, retrievers, and pipeline
// from configuration.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, scanner: store.NewScanner(cfg.Scan.PageSize, cfg.Scan.MaxIterations)}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	if a.embedder, err = openEmbedder(cfg); err != nil {
		return nil, err
	}

	if a.index, err = a.openIndex(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if a.keyword, err = retrieval.NewKeywordRetriever("keyword", a.keywordPath()); err != nil {
		a.Close()
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	if a.registry, err = store.OpenRegistry(a.registryPath()); err != nil {
		a.Close()
		return nil, fmt.Errorf("open document registry: %w", err)
	}

	if a.retriever, err = retrieval.NewVectorRetriever("vector", a.index, a.embedder); err != nil {
		a.Close()
		return nil, err
	}

	ecfg, err := retrieval.NewEnsembleConfig(
		retrieval.WeightedRetriever{Retriever: a.retriever, Weight: cfg.Retrieval.VectorWeight},
		retrieval.WeightedRetriever{Retriever: a.keyword, Weight: cfg.Retrieval.KeywordWeight},
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.ensemble = retrieval.NewEnsemble(ecfg,
		retrieval.WithRetrieverTimeout(cfg.Retrieval.RetrieverTimeout),
		retrieval.WithCandidateFactor(cfg.Retrieval.CandidateFactor),
	)

	a.pipeline, err = ingest.NewPipeline(
		a.index,
		a.embedder,
		ingest.NewRecursiveChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		ingest.WithKeywordIndex(a.keyword),
		ingest.WithRegistry(a.registry),
		ingest.WithWorkers(cfg.Ingest.Workers),
		ingest.WithLogger(slog.Default()),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func openEmbedder(cfg *config.Config) (embed.Embedder, error) {
	switch strings.ToLower(cfg.Embeddings.Provider) {
	case "static":
		return embed.NewStaticEmbedder(), nil
	case "openai":
		inner, err := embed.NewOpenAIEmbedder(embed.OpenAIConfig{
			BaseURL:    cfg.Embeddings.BaseURL,
			APIKey:     cfg.Embeddings.APIKey,
			Model:      cfg.Embeddings.Model,
			Dimensions: cfg.Embeddings.Dimensions,
			BatchSize:  cfg.Embeddings.BatchSize,
			Timeout:    cfg.Embeddings.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return embed.NewCachedEmbedder(inner, cfg.Embeddings.CacheSize), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Embeddings.Provider)
	}
}

func (a *app) openIndex(ctx context.Context) (store.VectorIndex, error) {
	switch strings.ToLower(a.cfg.Storage.Backend) {
	case "hnsw":
		a.hnswPath = a.vectorPath()
		if _, err := os.Stat(a.hnswPath); err == nil {
			idx, err := store.LoadHNSWIndex(a.hnswPath)
			if err != nil {
				return nil, fmt.Errorf("load vector index: %w", err)
			}
			if idx.Dimensions() != a.embedder.Dimensions() {
				return nil, fmt.Errorf("vector index has %d dimensions but embedder produces %d; remove %s to rebuild",
					idx.Dimensions(), a.embedder.Dimensions(), a.hnswPath)
			}
			return idx, nil
		}
		return store.NewHNSWIndex(store.HNSWConfig{
			Collection: a.cfg.Storage.Collection,
			Dimensions: a.embedder.Dimensions(),
		})
	case "qdrant":
		return store.NewQdrantIndex(ctx, store.QdrantConfig{
			URL:        a.cfg.Storage.QdrantURL,
			APIKey:     a.cfg.Storage.QdrantAPIKey,
			Collection: a.cfg.Storage.Collection,
			Dimensions: a.embedder.Dimensions(),
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

// save persists the local vector index. No-op for remote backends.
func (a *app) save() error {
	if a.hnswPath == "" {
		return nil
	}
	idx, ok := a.index.(*store.HNSWIndex)
	if !ok {
		return nil
	}
	return idx.Save(a.hnswPath)
}

// Close releases every component that was opened. Safe to call on a
// partially opened app.
func (a *app) Close() {
	if a.registry != nil {
		_ = a.registry.Close()
	}
	if a.keyword != nil {
		_ = a.keyword.Close()
	}
	if a.index != nil {
		_ = a.index.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
}

// Package server exposes retrieval and ingestion over a REST API.
// It is a thin layer: handlers validate input, call into the retrieval
// and ingest packages, and serialize their results without altering
// semantics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"docrag/internal/config"
	"docrag/internal/ingest"
	"docrag/internal/retrieval"
	"docrag/internal/store"
)

// Server wires the retrieval core and ingestion pipeline to HTTP.
type Server struct {
	cfg        config.ServerConfig
	collection string
	retriever  *retrieval.VectorRetriever
	ensemble   *retrieval.Ensemble
	scanner    *store.Scanner
	index      store.VectorIndex
	pipeline   *ingest.Pipeline
	logger     *slog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithPipeline enables the document ingestion endpoint.
func WithPipeline(p *ingest.Pipeline) Option {
	return func(s *Server) { s.pipeline = p }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithScanner overrides the default collection scanner.
func WithScanner(sc *store.Scanner) Option {
	return func(s *Server) { s.scanner = sc }
}

// NewServer creates a Server over one vector retriever and one ensemble.
// The retriever serves simple-mode queries and chunk similarity; the
// ensemble serves ensemble-mode queries and health checks.
func NewServer(cfg config.ServerConfig, collection string, retriever *retrieval.VectorRetriever, ensemble *retrieval.Ensemble, index store.VectorIndex, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		collection: collection,
		retriever:  retriever,
		ensemble:   ensemble,
		scanner:    store.NewScanner(0, 0),
		index:      index,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	v1.POST("/retrieve", s.handleRetrieve)
	v1.GET("/chunks/:id/similar", s.handleSimilar)
	v1.GET("/collections/:name/count", s.handleCount)
	v1.GET("/collections/:name/chunks", s.handleListChunks)
	v1.GET("/health", s.handleHealth)
	v1.POST("/documents", s.handleIngest)

	return router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("server listening", "addr", srv.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

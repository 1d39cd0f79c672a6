package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docrag/internal/ingest"
	"docrag/internal/retrieval"
	"docrag/internal/store"
)

const (
	defaultTopK      = 10
	defaultListLimit = 50
)

type retrieveRequest struct {
	Query          string            `json:"query" binding:"required"`
	TopK           int               `json:"top_k"`
	Mode           string            `json:"mode"`
	Strategy       string            `json:"strategy"`
	ScoreThreshold *float64          `json:"score_threshold"`
	Filters        map[string]string `json:"filters"`
}

type retrieveResponse struct {
	Results          []resultView      `json:"results"`
	TotalResults     int               `json:"total_results"`
	FailedRetrievers map[string]string `json:"failed_retrievers,omitempty"`
	Success          bool              `json:"success"`
	Error            string            `json:"error,omitempty"`
}

type resultView struct {
	ChunkID   string            `json:"chunk_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Score     float64           `json:"score"`
	Rank      int               `json:"rank"`
	Retriever string            `json:"retriever,omitempty"`
}

type chunkView struct {
	ID       string            `json:"id"`
	ParentID string            `json:"parent_id,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func toResultViews(results []retrieval.Result) []resultView {
	views := make([]resultView, 0, len(results))
	for _, r := range results {
		views = append(views, resultView{
			ChunkID:   r.Chunk.ID,
			ParentID:  r.Chunk.ParentID,
			Content:   r.Chunk.Content,
			Metadata:  r.Chunk.Metadata,
			Score:     r.Score,
			Rank:      r.Rank,
			Retriever: r.Retriever,
		})
	}
	return views
}

func toChunkViews(chunks []store.Chunk) []chunkView {
	views := make([]chunkView, 0, len(chunks))
	for _, c := range chunks {
		views = append(views, chunkView{
			ID:       c.ID,
			ParentID: c.ParentID,
			Content:  c.Content,
			Metadata: c.Metadata,
		})
	}
	return views
}

// statusForError maps retrieval sentinels to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, retrieval.ErrInvalidArgument),
		errors.Is(err, retrieval.ErrInvalidWeights):
		return http.StatusBadRequest
	case errors.Is(err, retrieval.ErrChunkNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, retrieval.ErrEmbeddingUnavailable),
		errors.Is(err, retrieval.ErrAllRetrieversFailed),
		errors.Is(err, store.ErrIndexUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleRetrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, retrieveResponse{
			Results: []resultView{},
			Success: false,
			Error:   "invalid request payload: " + err.Error(),
		})
		return
	}

	if req.TopK == 0 {
		req.TopK = defaultTopK
	}
	if req.Mode == "" {
		req.Mode = "simple"
	}

	opts := retrieval.Options{
		ScoreThreshold: req.ScoreThreshold,
		Filter:         req.Filters,
	}

	switch req.Mode {
	case "simple":
		results, err := s.retriever.Search(c.Request.Context(), req.Query, req.TopK, opts)
		if err != nil {
			s.retrieveError(c, err)
			return
		}
		c.JSON(http.StatusOK, retrieveResponse{
			Results:      toResultViews(results),
			TotalResults: len(results),
			Success:      true,
		})

	case "ensemble":
		strategy := retrieval.StrategyRank
		if req.Strategy != "" {
			var err error
			strategy, err = retrieval.ParseStrategy(req.Strategy)
			if err != nil {
				s.retrieveError(c, err)
				return
			}
		}

		fused, err := s.ensemble.Search(c.Request.Context(), req.Query, req.TopK, strategy, opts)
		if err != nil {
			s.retrieveError(c, err)
			return
		}

		resp := retrieveResponse{
			Results:      toResultViews(fused.Results),
			TotalResults: len(fused.Results),
			Success:      true,
		}
		if len(fused.Failures) > 0 {
			resp.FailedRetrievers = make(map[string]string, len(fused.Failures))
			for name, ferr := range fused.Failures {
				resp.FailedRetrievers[name] = ferr.Error()
			}
		}
		c.JSON(http.StatusOK, resp)

	default:
		c.JSON(http.StatusBadRequest, retrieveResponse{
			Results: []resultView{},
			Success: false,
			Error:   "mode must be 'simple' or 'ensemble', got " + req.Mode,
		})
	}
}

func (s *Server) retrieveError(c *gin.Context, err error) {
	s.logger.Warn("retrieve failed", "error", err)
	c.JSON(statusForError(err), retrieveResponse{
		Results: []resultView{},
		Success: false,
		Error:   err.Error(),
	})
}

func (s *Server) handleSimilar(c *gin.Context) {
	chunkID := c.Param("id")

	topK := defaultTopK
	if v := c.Query("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid top_k"})
			return
		}
		topK = n
	}

	results, err := s.retriever.SimilarToChunk(c.Request.Context(), chunkID, topK, retrieval.Options{})
	if err != nil {
		s.logger.Warn("similarity lookup failed", "chunk_id", chunkID, "error", err)
		c.JSON(statusForError(err), gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, retrieveResponse{
		Results:      toResultViews(results),
		TotalResults: len(results),
		Success:      true,
	})
}

func (s *Server) handleCount(c *gin.Context) {
	name := c.Param("name")
	if name != s.collection {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown collection: " + name})
		return
	}

	count, partial, err := s.scanner.CountAll(c.Request.Context(), s.index)
	if err != nil {
		s.logger.Error("count failed", "collection", name, "error", err)
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count, "partial": partial})
}

func (s *Server) handleListChunks(c *gin.Context) {
	name := c.Param("name")
	if name != s.collection {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown collection: " + name})
		return
	}

	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	offset := 0
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		offset = n
	}

	chunks, hasMore, partial, err := s.scanner.ListAll(c.Request.Context(), s.index, limit, offset)
	if err != nil {
		s.logger.Error("list failed", "collection", name, "error", err)
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chunks":   toChunkViews(chunks),
		"has_more": hasMore,
		"partial":  partial,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	health := s.ensemble.HealthCheck(c.Request.Context())

	status := http.StatusOK
	for _, ok := range health {
		if !ok {
			status = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(status, gin.H{"retrievers": health})
}

type ingestRequest struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

func (s *Server) handleIngest(c *gin.Context) {
	if s.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion is not enabled on this server"})
		return
	}

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload: " + err.Error()})
		return
	}
	if (req.Path == "") == (req.URL == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of 'path' or 'url' is required"})
		return
	}

	var (
		report *ingest.Report
		err    error
	)
	if req.Path != "" {
		report, err = s.pipeline.IngestFiles(c.Request.Context(), []string{req.Path})
	} else {
		report, err = s.pipeline.IngestURL(c.Request.Context(), req.URL)
	}
	if err != nil {
		s.logger.Error("ingest failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	failures := make(map[string]string, len(report.Failures))
	for source, ferr := range report.Failures {
		failures[source] = ferr.Error()
	}

	status := http.StatusOK
	if report.Documents == 0 && len(report.Failures) > 0 {
		status = http.StatusUnprocessableEntity
	}

	c.JSON(status, gin.H{
		"documents": report.Documents,
		"chunks":    report.Chunks,
		"skipped":   report.Skipped,
		"failures":  failures,
	})
}

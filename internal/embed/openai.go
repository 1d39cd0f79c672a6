package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// OpenAIConfig configures the OpenAI-compatible embedding client. The
// API shape is served by OpenAI itself and by local runtimes (Ollama,
// vLLM, LM Studio) behind their /v1 endpoints.
type OpenAIConfig struct {
	BaseURL    string        // e.g. https://api.openai.com/v1 or http://localhost:11434/v1
	APIKey     string        // optional for local runtimes
	Model      string        // e.g. text-embedding-3-small, nomic-embed-text
	Dimensions int           // expected embedding dimension
	BatchSize  int           // texts per request (default 32)
	Timeout    time.Duration // per-request timeout (default 60s)
	Retry      RetryConfig
}

// OpenAIEmbedder generates embeddings via the /embeddings endpoint.
type OpenAIEmbedder struct {
	config OpenAIConfig
	client *http.Client

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder for an OpenAI-compatible API.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai embedder: base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai embedder: model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("openai embedder: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.BatchSize < MinBatchSize || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &OpenAIEmbedder{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed generates embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, splitting the
// request into batches of at most BatchSize.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		results = append(results, batch...)
	}
	return results, nil
}

// embedBatch issues one /embeddings request with retry on transient
// failures. Client errors other than 429 abort immediately.
func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var resp embeddingResponse
	err := WithRetry(ctx, e.config.Retry, func() error {
		return e.doRequest(ctx, texts, &resp)
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// The API may return items out of order; the index field is
	// authoritative.
	sort.Slice(resp.Data, func(i, j int) bool {
		return resp.Data[i].Index < resp.Data[j].Index
	})

	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) != e.config.Dimensions {
			return nil, fmt.Errorf("model %q returned dimension %d, expected %d",
				e.config.Model, len(d.Embedding), e.config.Dimensions)
		}
		vecs[i] = normalizeVector(d.Embedding)
	}
	return vecs, nil
}

func (e *OpenAIEmbedder) doRequest(ctx context.Context, texts []string, out *embeddingResponse) error {
	body, err := json.Marshal(embeddingRequest{Input: texts, Model: e.config.Model})
	if err != nil {
		return Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	httpResp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusOK:
	case httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500:
		// Retryable: rate limits and server-side failures.
		return fmt.Errorf("%w: status %s", ErrUnavailable, httpResp.Status)
	default:
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return Permanent(fmt.Errorf("embeddings request failed: %s: %s", httpResp.Status, strings.TrimSpace(string(msg))))
	}

	*out = embeddingResponse{}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return Permanent(fmt.Errorf("embeddings API error: %s", out.Error.Message))
	}
	return nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// Available probes the backend with a minimal request.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var resp embeddingResponse
	return e.doRequest(ctx, []string{"ping"}, &resp) == nil
}

// Close releases resources.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}

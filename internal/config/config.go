// Package config loads and validates docrag configuration.
//
// Configuration is layered: hardcoded defaults, then an optional YAML
// file (.docrag.yaml in the working directory or an explicit path),
// then DOCRAG_* environment variables with the highest precedence.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for all docrag components.
type Config struct {
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Scan       ScanConfig       `yaml:"scan" json:"scan"`
}

// StorageConfig selects and configures the vector index backend.
type StorageConfig struct {
	// Backend is "hnsw" (local, persisted under DataDir) or "qdrant".
	Backend    string `yaml:"backend" json:"backend"`
	DataDir    string `yaml:"data_dir" json:"data_dir"`
	Collection string `yaml:"collection" json:"collection"`

	QdrantURL    string `yaml:"qdrant_url" json:"qdrant_url"`
	QdrantAPIKey string `yaml:"qdrant_api_key" json:"qdrant_api_key"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "static".
	Provider   string        `yaml:"provider" json:"provider"`
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	APIKey     string        `yaml:"api_key" json:"api_key"`
	Model      string        `yaml:"model" json:"model"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	CacheSize  int           `yaml:"cache_size" json:"cache_size"`
}

// RetrievalConfig configures search and ensemble fusion.
type RetrievalConfig struct {
	Strategy         string        `yaml:"strategy" json:"strategy"`
	TopK             int           `yaml:"top_k" json:"top_k"`
	CandidateFactor  int           `yaml:"candidate_factor" json:"candidate_factor"`
	RetrieverTimeout time.Duration `yaml:"retriever_timeout" json:"retriever_timeout"`
	VectorWeight     float64       `yaml:"vector_weight" json:"vector_weight"`
	KeywordWeight    float64       `yaml:"keyword_weight" json:"keyword_weight"`
}

// IngestConfig configures chunking and the ingestion pipeline.
type IngestConfig struct {
	ChunkSize     int           `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap  int           `yaml:"chunk_overlap" json:"chunk_overlap"`
	Workers       int           `yaml:"workers" json:"workers"`
	WatchDebounce time.Duration `yaml:"watch_debounce" json:"watch_debounce"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// ScanConfig bounds paginated index scans.
type ScanConfig struct {
	PageSize      int `yaml:"page_size" json:"page_size"`
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
}

// ConfigFileName is the project-level config file looked up by Load.
const ConfigFileName = ".docrag.yaml"

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:    "hnsw",
			DataDir:    ".docrag",
			Collection: "documents",
			QdrantURL:  "http://localhost:6333",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "openai",
			BaseURL:    "http://localhost:11434/v1",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			BatchSize:  64,
			Timeout:    60 * time.Second,
			CacheSize:  4096,
		},
		Retrieval: RetrievalConfig{
			Strategy:         "rank",
			TopK:             10,
			CandidateFactor:  3,
			RetrieverTimeout: 10 * time.Second,
			VectorWeight:     0.7,
			KeywordWeight:    0.3,
		},
		Ingest: IngestConfig{
			ChunkSize:     1000,
			ChunkOverlap:  200,
			Workers:       4,
			WatchDebounce: 500 * time.Millisecond,
		},
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8080,
			LogLevel: "info",
		},
		Scan: ScanConfig{
			PageSize:      100,
			MaxIterations: 1000,
		},
	}
}

// Load loads configuration from dir, applying in order of increasing
// precedence: defaults, .docrag.yaml (or .docrag.yml), DOCRAG_* env vars.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile loads configuration from an explicit YAML file path.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".docrag.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine, defaults apply.
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Storage.Backend != "" {
		c.Storage.Backend = other.Storage.Backend
	}
	if other.Storage.DataDir != "" {
		c.Storage.DataDir = other.Storage.DataDir
	}
	if other.Storage.Collection != "" {
		c.Storage.Collection = other.Storage.Collection
	}
	if other.Storage.QdrantURL != "" {
		c.Storage.QdrantURL = other.Storage.QdrantURL
	}
	if other.Storage.QdrantAPIKey != "" {
		c.Storage.QdrantAPIKey = other.Storage.QdrantAPIKey
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.BaseURL != "" {
		c.Embeddings.BaseURL = other.Embeddings.BaseURL
	}
	if other.Embeddings.APIKey != "" {
		c.Embeddings.APIKey = other.Embeddings.APIKey
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.Timeout != 0 {
		c.Embeddings.Timeout = other.Embeddings.Timeout
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Retrieval.Strategy != "" {
		c.Retrieval.Strategy = other.Retrieval.Strategy
	}
	if other.Retrieval.TopK != 0 {
		c.Retrieval.TopK = other.Retrieval.TopK
	}
	if other.Retrieval.CandidateFactor != 0 {
		c.Retrieval.CandidateFactor = other.Retrieval.CandidateFactor
	}
	if other.Retrieval.RetrieverTimeout != 0 {
		c.Retrieval.RetrieverTimeout = other.Retrieval.RetrieverTimeout
	}
	if other.Retrieval.VectorWeight != 0 {
		c.Retrieval.VectorWeight = other.Retrieval.VectorWeight
	}
	if other.Retrieval.KeywordWeight != 0 {
		c.Retrieval.KeywordWeight = other.Retrieval.KeywordWeight
	}

	if other.Ingest.ChunkSize != 0 {
		c.Ingest.ChunkSize = other.Ingest.ChunkSize
	}
	if other.Ingest.ChunkOverlap != 0 {
		c.Ingest.ChunkOverlap = other.Ingest.ChunkOverlap
	}
	if other.Ingest.Workers != 0 {
		c.Ingest.Workers = other.Ingest.Workers
	}
	if other.Ingest.WatchDebounce != 0 {
		c.Ingest.WatchDebounce = other.Ingest.WatchDebounce
	}

	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	if other.Scan.PageSize != 0 {
		c.Scan.PageSize = other.Scan.PageSize
	}
	if other.Scan.MaxIterations != 0 {
		c.Scan.MaxIterations = other.Scan.MaxIterations
	}
}

// applyEnvOverrides applies DOCRAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCRAG_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("DOCRAG_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("DOCRAG_COLLECTION"); v != "" {
		c.Storage.Collection = v
	}
	if v := os.Getenv("DOCRAG_QDRANT_URL"); v != "" {
		c.Storage.QdrantURL = v
	}
	if v := os.Getenv("DOCRAG_QDRANT_API_KEY"); v != "" {
		c.Storage.QdrantAPIKey = v
	}

	if v := os.Getenv("DOCRAG_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("DOCRAG_EMBEDDINGS_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}
	if v := os.Getenv("DOCRAG_EMBEDDINGS_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("DOCRAG_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("DOCRAG_EMBEDDINGS_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Embeddings.Dimensions = n
		}
	}

	if v := os.Getenv("DOCRAG_RETRIEVAL_STRATEGY"); v != "" {
		c.Retrieval.Strategy = v
	}
	if v := os.Getenv("DOCRAG_VECTOR_WEIGHT"); v != "" {
		if f, err := parseFloat64(v); err == nil {
			c.Retrieval.VectorWeight = f
		}
	}
	if v := os.Getenv("DOCRAG_KEYWORD_WEIGHT"); v != "" {
		if f, err := parseFloat64(v); err == nil {
			c.Retrieval.KeywordWeight = f
		}
	}

	if v := os.Getenv("DOCRAG_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("DOCRAG_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
	if v := os.Getenv("DOCRAG_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// Validate checks the configuration for inconsistent or out-of-range values.
func (c *Config) Validate() error {
	validBackends := map[string]bool{"hnsw": true, "qdrant": true}
	if !validBackends[strings.ToLower(c.Storage.Backend)] {
		return fmt.Errorf("storage.backend must be 'hnsw' or 'qdrant', got %s", c.Storage.Backend)
	}
	if strings.ToLower(c.Storage.Backend) == "qdrant" && c.Storage.QdrantURL == "" {
		return fmt.Errorf("storage.qdrant_url is required when backend is 'qdrant'")
	}

	validProviders := map[string]bool{"openai": true, "static": true}
	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'openai' or 'static', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}

	validStrategies := map[string]bool{"score": true, "rank": true, "weighted": true, "voting": true}
	if !validStrategies[strings.ToLower(c.Retrieval.Strategy)] {
		return fmt.Errorf("retrieval.strategy must be 'score', 'rank', 'weighted', or 'voting', got %s", c.Retrieval.Strategy)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.CandidateFactor <= 0 {
		return fmt.Errorf("retrieval.candidate_factor must be positive, got %d", c.Retrieval.CandidateFactor)
	}
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.KeywordWeight < 0 {
		return fmt.Errorf("retrieval weights must be non-negative, got vector=%f keyword=%f",
			c.Retrieval.VectorWeight, c.Retrieval.KeywordWeight)
	}
	sum := c.Retrieval.VectorWeight + c.Retrieval.KeywordWeight
	if math.Abs(sum) < 1e-9 {
		return fmt.Errorf("retrieval weights must not all be zero")
	}

	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	if c.Scan.PageSize <= 0 {
		return fmt.Errorf("scan.page_size must be positive, got %d", c.Scan.PageSize)
	}
	if c.Scan.MaxIterations <= 0 {
		return fmt.Errorf("scan.max_iterations must be positive, got %d", c.Scan.MaxIterations)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Package config loads and validates qanoon configuration.
// Configuration is read from .qanoon/config.yaml with QANOON_* environment
// variable overrides applied on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all qanoon configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Store paths
	Store StoreConfig `yaml:"store"`

	// Embedding engine
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Cross-encoder reranker
	Rerank RerankConfig `yaml:"rerank"`

	// Retrieval pipeline tuning
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Chunker tuning
	Chunker ChunkerConfig `yaml:"chunker"`

	// Statute keyword engine
	Statute StatuteConfig `yaml:"statute"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the SQLite-backed stores.
type StoreConfig struct {
	// CaseDatabasePath points at the scraper-owned case store (read-only).
	CaseDatabasePath string `yaml:"case_database_path"`

	// KBDatabasePath is the core-owned knowledge base store.
	KBDatabasePath string `yaml:"kb_database_path"`
}

// EmbeddingConfig configures the embedding engine and on-disk cache.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // ollama | genai

	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`

	// Dimension must match the configured model. Default 384.
	Dimension int `yaml:"dimension"`

	// CacheDir is the on-disk embedding cache root.
	CacheDir string `yaml:"cache_dir"`
}

// RerankConfig configures the stage-2 cross-encoder.
type RerankConfig struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`

	// SemanticWeight is the fusion weight for the normalized rerank score.
	SemanticWeight float64 `yaml:"semantic_weight"`

	// MinRerankK is the stage-2 output floor.
	MinRerankK int `yaml:"min_rerank_k"`
}

// RetrievalConfig tunes the two-stage retrieval pipeline.
type RetrievalConfig struct {
	InitialK           int     `yaml:"initial_retrieval_k"` // stage-1 top-k
	FinalK             int     `yaml:"final_retrieval_k"`   // stage-2 output cap
	DiversityThreshold float64 `yaml:"diversity_threshold"` // stage-3 Jaccard cutoff

	// WorkerPoolSize bounds concurrent query serving.
	WorkerPoolSize int `yaml:"worker_pool_size"`
}

// ChunkerConfig tunes the knowledge-base chunker.
type ChunkerConfig struct {
	ChunkSize    int     `yaml:"chunk_size"`     // tokens
	ChunkOverlap int     `yaml:"chunk_overlap"`  // tokens
	MinChunkSize int     `yaml:"min_chunk_size"` // tokens
	MaxChunkSize int     `yaml:"max_chunk_size"` // tokens
	TokenRatio   float64 `yaml:"token_ratio"`    // chars per token
}

// StatuteConfig configures the statute keyword engine.
type StatuteConfig struct {
	// CorpusPath is a YAML file of StatuteEntry records.
	CorpusPath string `yaml:"corpus_path"`

	// WatchCorpus enables fsnotify hot-reload of the corpus file.
	WatchCorpus bool `yaml:"watch_corpus"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "qanoon",
		Version: "0.1.0",
		Store: StoreConfig{
			CaseDatabasePath: filepath.Join(".qanoon", "cases.db"),
			KBDatabasePath:   filepath.Join(".qanoon", "kb.db"),
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "all-minilm",
			GenAIModel:     "gemini-embedding-001",
			Dimension:      384,
			CacheDir:       filepath.Join(".qanoon", "embedding_cache"),
		},
		Rerank: RerankConfig{
			Endpoint:       "http://localhost:8501",
			Model:          "cross-encoder/ms-marco-MiniLM-L-6-v2",
			SemanticWeight: 0.7,
			MinRerankK:     8,
		},
		Retrieval: RetrievalConfig{
			InitialK:           30,
			FinalK:             12,
			DiversityThreshold: 0.8,
			WorkerPoolSize:     8,
		},
		Chunker: ChunkerConfig{
			ChunkSize:    700,
			ChunkOverlap: 100,
			MinChunkSize: 200,
			MaxChunkSize: 1000,
			TokenRatio:   0.75,
		},
		Statute: StatuteConfig{
			CorpusPath:  filepath.Join(".qanoon", "statutes.yaml"),
			WatchCorpus: false,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads config from the given path, falling back to defaults when the
// file is absent. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromWorkspace loads .qanoon/config.yaml under the given workspace root.
func LoadFromWorkspace(workspace string) (*Config, error) {
	return Load(filepath.Join(workspace, ".qanoon", "config.yaml"))
}

// applyEnvOverrides layers QANOON_* environment variables over the config.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("QANOON_CASE_DB"); v != "" {
		c.Store.CaseDatabasePath = v
	}
	if v := os.Getenv("QANOON_KB_DB"); v != "" {
		c.Store.KBDatabasePath = v
	}
	if v := os.Getenv("QANOON_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("QANOON_OLLAMA_ENDPOINT"); v != "" {
		c.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv("QANOON_OLLAMA_MODEL"); v != "" {
		c.Embedding.OllamaModel = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
		if c.Embedding.Provider == "" {
			c.Embedding.Provider = "genai"
		}
	}
	if v := os.Getenv("QANOON_EMBEDDING_CACHE_DIR"); v != "" {
		c.Embedding.CacheDir = v
	}
	if v := os.Getenv("QANOON_EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.Dimension = n
		}
	}
	if v := os.Getenv("QANOON_RERANK_ENDPOINT"); v != "" {
		c.Rerank.Endpoint = v
	}
	if v := os.Getenv("QANOON_RERANK_MODEL"); v != "" {
		c.Rerank.Model = v
	}
	if v := os.Getenv("QANOON_SEMANTIC_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.Rerank.SemanticWeight = f
		}
	}
	if v := os.Getenv("QANOON_STATUTE_CORPUS"); v != "" {
		c.Statute.CorpusPath = v
	}
	if v := os.Getenv("QANOON_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = b
		}
	}
}

// Validate checks invariants that would otherwise surface as subtle runtime
// misbehavior (a dimension mismatch corrupts every similarity score).
func (c *Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Retrieval.InitialK <= 0 {
		return fmt.Errorf("retrieval.initial_retrieval_k must be positive, got %d", c.Retrieval.InitialK)
	}
	if c.Retrieval.FinalK <= 0 {
		return fmt.Errorf("retrieval.final_retrieval_k must be positive, got %d", c.Retrieval.FinalK)
	}
	if c.Rerank.MinRerankK > c.Retrieval.FinalK {
		return fmt.Errorf("rerank.min_rerank_k (%d) exceeds retrieval.final_retrieval_k (%d)",
			c.Rerank.MinRerankK, c.Retrieval.FinalK)
	}
	if c.Rerank.SemanticWeight < 0 || c.Rerank.SemanticWeight > 1 {
		return fmt.Errorf("rerank.semantic_weight must be in [0,1], got %f", c.Rerank.SemanticWeight)
	}
	if c.Retrieval.DiversityThreshold < 0 || c.Retrieval.DiversityThreshold > 1 {
		return fmt.Errorf("retrieval.diversity_threshold must be in [0,1], got %f", c.Retrieval.DiversityThreshold)
	}
	if c.Chunker.MinChunkSize > c.Chunker.ChunkSize || c.Chunker.ChunkSize > c.Chunker.MaxChunkSize {
		return fmt.Errorf("chunker sizes must satisfy min <= target <= max (got %d/%d/%d)",
			c.Chunker.MinChunkSize, c.Chunker.ChunkSize, c.Chunker.MaxChunkSize)
	}
	if c.Chunker.TokenRatio <= 0 {
		return fmt.Errorf("chunker.token_ratio must be positive, got %f", c.Chunker.TokenRatio)
	}
	return nil
}

// Save writes the config to the given path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

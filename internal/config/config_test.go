package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30, cfg.Retrieval.InitialK)
	assert.Equal(t, 12, cfg.Retrieval.FinalK)
	assert.Equal(t, 8, cfg.Rerank.MinRerankK)
	assert.Equal(t, 0.8, cfg.Retrieval.DiversityThreshold)
	assert.Equal(t, 0.7, cfg.Rerank.SemanticWeight)
	assert.Equal(t, 700, cfg.Chunker.ChunkSize)
	assert.Equal(t, 100, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 0.75, cfg.Chunker.TokenRatio)
	assert.Equal(t, 384, cfg.Embedding.Dimension)

	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "qanoon", cfg.Name)
}

func TestLoad_YAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
retrieval:
  initial_retrieval_k: 50
  final_retrieval_k: 15
rerank:
  semantic_weight: 0.6
  min_rerank_k: 6
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Retrieval.InitialK)
	assert.Equal(t, 15, cfg.Retrieval.FinalK)
	assert.Equal(t, 0.6, cfg.Rerank.SemanticWeight)
	assert.Equal(t, 6, cfg.Rerank.MinRerankK)
	// Untouched sections keep defaults
	assert.Equal(t, 700, cfg.Chunker.ChunkSize)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("QANOON_KB_DB overrides path", func(t *testing.T) {
		t.Setenv("QANOON_KB_DB", "/tmp/kb-override.db")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "/tmp/kb-override.db", cfg.Store.KBDatabasePath)
	})

	t.Run("GEMINI_API_KEY sets provider when empty", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "test-key")
		cfg := &Config{}
		cfg.applyEnvOverrides()
		assert.Equal(t, "test-key", cfg.Embedding.GenAIAPIKey)
		assert.Equal(t, "genai", cfg.Embedding.Provider)
	})

	t.Run("GEMINI_API_KEY does not override existing provider", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "test-key")
		cfg := &Config{Embedding: EmbeddingConfig{Provider: "ollama"}}
		cfg.applyEnvOverrides()
		assert.Equal(t, "ollama", cfg.Embedding.Provider)
	})

	t.Run("invalid QANOON_SEMANTIC_WEIGHT ignored", func(t *testing.T) {
		t.Setenv("QANOON_SEMANTIC_WEIGHT", "2.5")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, 0.7, cfg.Rerank.SemanticWeight)
	})
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }},
		{"negative initial k", func(c *Config) { c.Retrieval.InitialK = -1 }},
		{"zero final k", func(c *Config) { c.Retrieval.FinalK = 0 }},
		{"floor above final k", func(c *Config) { c.Rerank.MinRerankK = 20 }},
		{"weight above one", func(c *Config) { c.Rerank.SemanticWeight = 1.5 }},
		{"inverted chunk sizes", func(c *Config) { c.Chunker.MinChunkSize = 2000 }},
		{"zero token ratio", func(c *Config) { c.Chunker.TokenRatio = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Retrieval.InitialK = 42
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Retrieval.InitialK)
}

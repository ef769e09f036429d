package embedding

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"qanoon/internal/logging"
)

// =============================================================================
// ON-DISK EMBEDDING CACHE
// =============================================================================

// DiskCache stores embeddings as one file per key under a root directory.
// Keys are the MD5 hex digest of the embedded text. Writes go through a
// temp-file + rename so concurrent writers never leave a torn file; readers
// treat any read or decode failure as a miss and recompute.
type DiskCache struct {
	root string
}

// NewDiskCache creates the cache root if needed.
func NewDiskCache(root string) (*DiskCache, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &DiskCache{root: root}, nil
}

// Key returns the cache key for a text.
func (c *DiskCache) Key(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *DiskCache) path(key string) string {
	return filepath.Join(c.root, key+".json")
}

// Get returns the cached embedding for text, or (nil, false) on a miss.
func (c *DiskCache) Get(text string) ([]float32, bool) {
	data, err := os.ReadFile(c.path(c.Key(text)))
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		// Corrupt entry: drop it and recompute.
		os.Remove(c.path(c.Key(text)))
		return nil, false
	}
	if len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

// Put writes an embedding for text. The write is atomic: a temp file in the
// same directory is renamed over the final path.
func (c *DiskCache) Put(text string, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	final := c.path(c.Key(text))
	tmp, err := os.CreateTemp(c.root, "embed-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename cache entry: %w", err)
	}
	return nil
}

// =============================================================================
// CACHED ENGINE
// =============================================================================

// CachedEngine wraps an Engine with a DiskCache. Batch requests load hits
// from disk and compute all misses in a single backend call.
type CachedEngine struct {
	inner Engine
	cache *DiskCache
}

// NewCachedEngine wraps engine with the cache at cacheDir.
func NewCachedEngine(inner Engine, cacheDir string) (*CachedEngine, error) {
	cache, err := NewDiskCache(cacheDir)
	if err != nil {
		return nil, err
	}
	return &CachedEngine{inner: inner, cache: cache}, nil
}

// Embed returns the cached embedding when present, computing and caching on miss.
func (e *CachedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(text); ok {
		logging.EmbeddingDebug("Embedding cache hit (%d dims)", len(vec))
		return vec, nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Put(text, vec); err != nil {
		// A failed cache write only costs a future recompute.
		logging.Get(logging.CategoryEmbedding).Warn("Embedding cache write failed: %v", err)
	}
	return vec, nil
}

// EmbedBatch resolves cache hits and computes all misses in one backend call.
func (e *CachedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "CachedEngine.EmbedBatch")
	defer timer.Stop()

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec, ok := e.cache.Get(text); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	logging.EmbeddingDebug("EmbedBatch: %d hits, %d misses", len(texts)-len(missTexts), len(missTexts))

	if len(missTexts) > 0 {
		computed, err := e.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(computed) != len(missTexts) {
			return nil, fmt.Errorf("backend returned %d embeddings for %d texts", len(computed), len(missTexts))
		}
		for j, vec := range computed {
			out[missIdx[j]] = vec
			if err := e.cache.Put(missTexts[j], vec); err != nil {
				logging.Get(logging.CategoryEmbedding).Warn("Embedding cache write failed: %v", err)
			}
		}
	}

	return out, nil
}

// Dimensions returns the wrapped engine's dimensionality.
func (e *CachedEngine) Dimensions() int {
	return e.inner.Dimensions()
}

// Name returns the wrapped engine's name with a cache marker.
func (e *CachedEngine) Name() string {
	return e.inner.Name() + "+cache"
}

package engine

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachingEmbedder wraps an Embedder with a ristretto cache keyed by input
// text. The retrieval contract is one embedding call per retrieval; the cache
// removes the repeat cost when the same query text recurs across calls.
type CachingEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachingEmbedder wraps inner with a cache holding up to maxEntries query
// vectors.
func NewCachingEmbedder(inner Embedder, maxEntries int64) (*CachingEmbedder, error) {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		// Entries are counted with cost 1 each; without this flag ristretto
		// adds its internal per-item overhead to the cost, which exceeds
		// MaxCost for small caches and silently rejects every entry.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachingEmbedder{inner: inner, cache: cache}, nil
}

func (c *CachingEmbedder) Model() string   { return c.inner.Model() }
func (c *CachingEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Embed returns a cached vector when available, otherwise delegates and
// caches the result. Errors are never cached.
func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	key := c.inner.Model() + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.([]float64); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, vec, 1)
	// Flush ristretto's set buffer so a repeat of the same query within the
	// same turn hits the cache.
	c.cache.Wait()
	return vec, nil
}

// Close releases the cache's internal goroutines.
func (c *CachingEmbedder) Close() {
	c.cache.Close()
}

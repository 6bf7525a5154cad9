package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	ports "github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness/ports"
	"github.com/zeebo/blake3"
)

// CachedEmbedder memoizes embeddings in a ports.Cache. Repeated questions skip the
// embedding server entirely.
type CachedEmbedder struct {
	inner      Embedder
	cache      ports.Cache
	namespace  string // Usually the embedding model name, so a model switch never reuses vectors
	ttlSeconds int
}

func NewCachedEmbedder(inner Embedder, cache ports.Cache, namespace string, ttlSeconds int) *CachedEmbedder {
	return &CachedEmbedder{
		inner:      inner,
		cache:      cache,
		namespace:  namespace,
		ttlSeconds: ttlSeconds,
	}
}

// Embed returns vectors in input order, calling the wrapped embedder only for cache misses.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	keys := make([]string, len(texts))

	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		keys[i] = c.key(text)
		if raw, ok := c.cache.Get(ctx, keys[i]); ok {
			var vec []float64
			if err := json.Unmarshal(raw, &vec); err == nil && len(vec) > 0 {
				out[i] = vec
				continue
			}
			_ = c.cache.Delete(ctx, keys[i])
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(missTexts))
	}

	for j, vec := range vectors {
		i := missIdx[j]
		out[i] = vec
		if raw, err := json.Marshal(vec); err == nil {
			_ = c.cache.Set(ctx, keys[i], raw, c.ttlSeconds)
		}
	}

	return out, nil
}

func (c *CachedEmbedder) Dimension() int {
	return c.inner.Dimension()
}

func (c *CachedEmbedder) key(text string) string {
	sum := blake3.Sum256([]byte(c.namespace + "\x00" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

var _ Embedder = (*CachedEmbedder)(nil)

package service

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/ZanzyTHEbar/faqbot/faqbot/config"
)

// RetrieverImpl embeds the query and asks the vector index for its nearest documents.
// Errors from either collaborator are wrapped and returned, never masked.
type RetrieverImpl struct {
	config      *config.RetrievalConfig
	embedder    Embedder
	vectorIndex VectorIndex
	metrics     *MetricsCollector
}

// NewRetriever creates a new retriever. metrics may be nil.
func NewRetriever(config *config.RetrievalConfig, embedder Embedder, vectorIndex VectorIndex, metrics *MetricsCollector) *RetrieverImpl {
	if metrics == nil {
		metrics = NewMetricsCollector()
	}
	return &RetrieverImpl{
		config:      config,
		embedder:    embedder,
		vectorIndex: vectorIndex,
		metrics:     metrics,
	}
}

// Retrieve returns up to k passages ordered by decreasing similarity. k <= 0 uses the configured k.
// An empty store yields an empty, non-nil slice.
func (ret *RetrieverImpl) Retrieve(ctx context.Context, query string, k int) (passages []Passage, err error) {
	start := time.Now()
	defer func() {
		ret.metrics.RecordRetrieval("vector", time.Since(start), err)
	}()

	if k <= 0 {
		k = ret.config.K
	}
	if k <= 0 {
		k = 1
	}

	vectors, err := ret.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("query embedding failed: embedder returned %d vectors", len(vectors))
	}

	results, err := ret.vectorIndex.Query(ctx, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	passages = make([]Passage, 0, len(results))
	for _, r := range results {
		if ret.config.MinScore > 0 && r.Score < ret.config.MinScore {
			continue
		}
		passages = append(passages, Passage{
			Text:     r.Text,
			Metadata: maps.Clone(r.Metadata),
		})
	}

	return passages, nil
}

// Ensure RetrieverImpl implements the Retriever interface.
var _ Retriever = (*RetrieverImpl)(nil)

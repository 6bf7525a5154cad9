package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// MemoryIndex is an in-process VectorIndex with the same ranking as FlatIndexImpl.
// Contents are lost when the process exits.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]Document)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.docs == nil {
		return errors.New("memory index is closed")
	}
	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", doc.ID)
		}
		doc.Metadata = maps.Clone(doc.Metadata)
		doc.Embedding = slices.Clone(doc.Embedding)
		m.docs[doc.ID] = doc
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, query []float64, k int) ([]SearchResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]SearchResult, 0, len(m.docs))
	for id, doc := range m.docs {
		if len(doc.Embedding) != len(query) {
			return nil, fmt.Errorf("query dimension mismatch: document %s has %d, query has %d", id, len(doc.Embedding), len(query))
		}
		candidates = append(candidates, SearchResult{
			ID:         id,
			Score:      cosineSimilarity(query, doc.Embedding),
			Text:       doc.Text,
			Metadata:   maps.Clone(doc.Metadata),
			Provenance: "vector_memory",
		})
	}

	return topK(candidates, k), nil
}

func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs), nil
}

func (m *MemoryIndex) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string]Document)
	return nil
}

func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = nil
	return nil
}

var _ VectorIndex = (*MemoryIndex)(nil)

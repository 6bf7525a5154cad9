package service

import (
	"context"
	"time"
)

// Embedder generates embeddings for text content
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Dimension() int
}

// VectorIndex manages document storage and similarity search
type VectorIndex interface {
	Upsert(ctx context.Context, docs []Document) error
	Query(ctx context.Context, query []float64, k int) ([]SearchResult, error)
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
	Close() error
}

// Retriever answers "which stored passages are closest to this question"
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Passage, error)
}

// Supporting types and structs

// Document is one stored FAQ entry together with its embedding
type Document struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata"`
	Embedding []float64         `json:"-"`
	CreatedAt time.Time         `json:"created_at"`
}

// SearchResult represents a search hit, ordered by decreasing Score
type SearchResult struct {
	ID         string            `json:"id"`
	Score      float64           `json:"score"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata"`
	Provenance string            `json:"provenance"` // Which index produced it
}

// Passage is the retrieval output handed to prompt composition
type Passage struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Metadata keys written by ingestion
const (
	MetaQuestion = "question"
	MetaAnswer   = "answer"
	MetaSource   = "source"
	MetaID       = "id"
)

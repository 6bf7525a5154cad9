package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
)

// FlatIndexImpl implements VectorIndex using brute-force search over a libsql table.
// Every row of the collection is scored on each query, which is fine for FAQ-sized corpora.
type FlatIndexImpl struct {
	db         *sql.DB
	collection string
}

// NewFlatIndexImpl creates a new flat vector index scoped to one collection.
// The faq_documents table must already exist (see database.Migrate).
func NewFlatIndexImpl(db *sql.DB, collection string) *FlatIndexImpl {
	return &FlatIndexImpl{
		db:         db,
		collection: collection,
	}
}

// Upsert adds or replaces documents in a single transaction
func (f *FlatIndexImpl) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO faq_documents (collection, id, content, metadata, embedding, dims, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			dims = excluded.dims
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", doc.ID)
		}

		metaJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", doc.ID, err)
		}
		vecJSON, err := json.Marshal(doc.Embedding)
		if err != nil {
			return fmt.Errorf("failed to encode vector for %s: %w", doc.ID, err)
		}

		createdAt := now
		if !doc.CreatedAt.IsZero() {
			createdAt = doc.CreatedAt.Unix()
		}

		if _, err := stmt.ExecContext(ctx, f.collection, doc.ID, doc.Text, string(metaJSON), string(vecJSON), len(doc.Embedding), createdAt); err != nil {
			return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

// Query performs k-NN search using brute force cosine similarity
func (f *FlatIndexImpl) Query(ctx context.Context, query []float64, k int) ([]SearchResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}

	rows, err := f.db.QueryContext(ctx, `
		SELECT id, content, metadata, embedding
		FROM faq_documents
		WHERE collection = ?
	`, f.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vectors: %w", err)
	}
	defer rows.Close()

	var candidates []SearchResult
	for rows.Next() {
		var (
			id, content     string
			metaJSON, vJSON string
		)
		if err := rows.Scan(&id, &content, &metaJSON, &vJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		var vector []float64
		if err := json.Unmarshal([]byte(vJSON), &vector); err != nil {
			return nil, fmt.Errorf("failed to decode vector for %s: %w", id, err)
		}
		if len(vector) != len(query) {
			return nil, fmt.Errorf("query dimension mismatch: document %s has %d, query has %d", id, len(vector), len(query))
		}

		metadata := map[string]string{}
		if err := json.Unmarshal([]byte(metaJSON), &metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", id, err)
		}

		candidates = append(candidates, SearchResult{
			ID:         id,
			Score:      cosineSimilarity(query, vector),
			Text:       content,
			Metadata:   metadata,
			Provenance: "vector_flat",
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return topK(candidates, k), nil
}

// Count returns the number of documents in the collection
func (f *FlatIndexImpl) Count(ctx context.Context) (int, error) {
	var n int
	if err := f.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM faq_documents WHERE collection = ?`, f.collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Reset removes every document of the collection
func (f *FlatIndexImpl) Reset(ctx context.Context) error {
	if _, err := f.db.ExecContext(ctx, `DELETE FROM faq_documents WHERE collection = ?`, f.collection); err != nil {
		return fmt.Errorf("failed to reset collection %s: %w", f.collection, err)
	}
	return nil
}

// Close is a no-op; the *sql.DB is owned by the caller
func (f *FlatIndexImpl) Close() error {
	return nil
}

// topK sorts by score descending, breaking ties by id so results are stable, and truncates.
func topK(candidates []SearchResult, k int) []SearchResult {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})

	if k < 0 {
		k = 0
	}
	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k]
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}

	return floats.Dot(a, b) / (normA * normB)
}

// Ensure FlatIndexImpl implements the VectorIndex interface.
var _ VectorIndex = (*FlatIndexImpl)(nil)

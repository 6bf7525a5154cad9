package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/faqbot/faqbot/config"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

const (
	questionColumn = "Question"
	answerColumn   = "Answer"
)

// FormatFAQDocument renders one FAQ pair as stored document text
func FormatFAQDocument(question, answer string) string {
	return "Question: " + question + "\nRéponse: " + answer
}

// LoadFAQCSV parses a Question,Answer CSV into documents without embeddings.
// Document ids are the zero-based data row index.
func LoadFAQCSV(r io.Reader, source string) ([]Document, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv %s is empty", source)
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	qCol, err := columnIndex(header, questionColumn)
	if err != nil {
		return nil, err
	}
	aCol, err := columnIndex(header, answerColumn)
	if err != nil {
		return nil, err
	}
	need := max(qCol, aCol) + 1

	var docs []Document
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		if len(record) < need {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("csv line %d has %d fields, need at least %d", line, len(record), need)
		}

		id := strconv.Itoa(len(docs))
		question := record[qCol]
		answer := record[aCol]
		docs = append(docs, Document{
			ID:   id,
			Text: FormatFAQDocument(question, answer),
			Metadata: map[string]string{
				MetaQuestion: question,
				MetaAnswer:   answer,
				MetaSource:   source,
				MetaID:       id,
			},
		})
	}

	return docs, nil
}

func columnIndex(header []string, name string) (int, error) {
	for i, h := range header {
		if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == name {
			return i, nil
		}
	}
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), name) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("csv is missing the %q column", name)
}

// Ingestor loads the FAQ corpus into a vector index
type Ingestor struct {
	config   *config.IngestConfig
	embedder Embedder
	index    VectorIndex
	metrics  *MetricsCollector
	logger   zerolog.Logger
}

func NewIngestor(config *config.IngestConfig, embedder Embedder, index VectorIndex, metrics *MetricsCollector, logger zerolog.Logger) *Ingestor {
	if metrics == nil {
		metrics = NewMetricsCollector()
	}
	return &Ingestor{
		config:   config,
		embedder: embedder,
		index:    index,
		metrics:  metrics,
		logger:   logger.With().Str("component", "ingest").Logger(),
	}
}

// IngestIfEmpty ingests the CSV at path only when the collection holds no documents.
// It returns the number of documents written, 0 when skipped.
func (in *Ingestor) IngestIfEmpty(ctx context.Context, path string) (int, error) {
	n, err := in.index.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		in.logger.Info().Int("documents", n).Msg("Store already populated, skipping ingestion")
		return 0, nil
	}
	return in.Ingest(ctx, path, false)
}

// Ingest reads the CSV at path and upserts every row. force clears the collection first.
func (in *Ingestor) Ingest(ctx context.Context, path string, force bool) (written int, err error) {
	start := time.Now()
	defer func() {
		in.metrics.RecordIngest(written, time.Since(start), err)
	}()

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer f.Close()

	source := in.config.Source
	if source == "" {
		source = path
	}

	docs, err := LoadFAQCSV(f, source)
	if err != nil {
		return 0, err
	}

	if force {
		if err := in.index.Reset(ctx); err != nil {
			return 0, err
		}
	}

	if err := in.IngestDocuments(ctx, docs); err != nil {
		return 0, err
	}

	in.logger.Info().
		Str("path", path).
		Int("documents", len(docs)).
		Dur("duration", time.Since(start)).
		Msg("Ingestion complete")

	return len(docs), nil
}

// IngestDocuments embeds docs in batches, fanning batches out over a bounded worker pool,
// then upserts them. The first embedding error cancels the remaining batches.
func (in *Ingestor) IngestDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	batchSize := in.config.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	workers := in.config.Concurrency
	if workers <= 0 {
		workers = 1
	}

	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx).WithCancelOnError()
	for startIdx := 0; startIdx < len(docs); startIdx += batchSize {
		batch := docs[startIdx:min(startIdx+batchSize, len(docs))]
		p.Go(func(ctx context.Context) error {
			texts := make([]string, len(batch))
			for i := range batch {
				texts[i] = batch[i].Text
			}
			vectors, err := in.embedder.Embed(ctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed batch at %s: %w", batch[0].ID, err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(batch))
			}
			// Each goroutine owns a disjoint sub-slice of docs.
			for i := range batch {
				batch[i].Embedding = vectors[i]
			}
			in.logger.Debug().Str("first_id", batch[0].ID).Int("size", len(batch)).Msg("Embedded batch")
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	if err := in.index.Upsert(ctx, docs); err != nil {
		return fmt.Errorf("failed to store documents: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/faqbot/faqbot/config"
	"github.com/ZanzyTHEbar/faqbot/faqbot/db"
	"github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness"
	ports "github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness/ports"
	"github.com/ZanzyTHEbar/faqbot/faqbot/generation/models"
	"github.com/ZanzyTHEbar/faqbot/faqbot/memory/database"
	"github.com/ZanzyTHEbar/faqbot/faqbot/memory/service"
	"github.com/rs/zerolog"
)

// app holds every long-lived component of a running faqbot.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	db       *sql.DB
	index    service.VectorIndex
	embedder *models.OllamaClient
	metrics  *service.MetricsCollector
	ingestor *service.Ingestor
	factory  *harness.Factory
	closers  []func() error
}

// newApp connects the store and the embedding client. The generation side is built
// lazily by orchestrator since ingest does not need it.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: service.NewMetricsCollector(),
		factory: harness.NewFactory(cfg, logger),
	}

	if err := a.openStore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	embedder, err := models.NewOllamaClient(models.OllamaConfig{
		BaseURL:          cfg.Embedding.BaseURL,
		Model:            cfg.Embedding.Model,
		Timeout:          cfg.Embedding.Timeout,
		MaxRetries:       cfg.Embedding.MaxRetries,
		Dims:             cfg.Embedding.Dims,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}, logger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("embedding client: %w", err)
	}
	a.embedder = embedder

	a.ingestor = service.NewIngestor(&cfg.Ingest, embedder, a.index, a.metrics, logger)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Type {
	case "memory":
		a.index = service.NewMemoryIndex()
	case "libsql":
		conn, err := db.ConnectToDB(a.cfg.Store.Path, a.logger)
		if err != nil {
			return fmt.Errorf("connect store: %w", err)
		}
		a.db = conn
		a.closers = append(a.closers, conn.Close)

		if err := database.Migrate(ctx, conn, a.logger); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
		a.index = service.NewFlatIndexImpl(conn, a.cfg.Store.Collection)
	default:
		return fmt.Errorf("unknown store type %q", a.cfg.Store.Type)
	}
	a.closers = append(a.closers, a.index.Close)
	return nil
}

// provider builds the configured generation backend.
func (a *app) provider() (ports.Provider, error) {
	switch a.cfg.LLM.Provider {
	case "gguf":
		p, err := models.NewGGUFProvider(models.GGUFConfigFromLLM(a.cfg.LLM), a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		return p, nil
	default:
		return models.NewOllamaClient(models.OllamaConfig{
			BaseURL:          a.cfg.LLM.BaseURL,
			Model:            a.cfg.LLM.Model,
			MaxRetries:       a.cfg.LLM.MaxRetries,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		}, a.logger)
	}
}

// orchestrator wires retrieval and generation into a RequestOrchestrator.
func (a *app) orchestrator() (*harness.RequestOrchestrator, error) {
	provider, err := a.provider()
	if err != nil {
		return nil, fmt.Errorf("generation provider: %w", err)
	}

	retriever := service.NewRetriever(&a.cfg.Retrieval, a.factory.CreateEmbedder(a.embedder), a.index, a.metrics)
	return a.factory.CreateOrchestrator(retriever, provider, a.metrics)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

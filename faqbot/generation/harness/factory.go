package harness

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/faqbot/faqbot/config"
	"github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness/ports"
	"github.com/ZanzyTHEbar/faqbot/faqbot/memory/service"
	"github.com/rs/zerolog"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	config *config.Config
	rng    RandomSource
	logger zerolog.Logger
}

// NewFactory creates a new harness factory.
func NewFactory(cfg *config.Config, logger zerolog.Logger) *Factory {
	return &Factory{
		config: cfg,
		rng:    DefaultRandomSource(),
		logger: logger,
	}
}

// WithRandomSource overrides the source used for canned and fallback replies.
func (f *Factory) WithRandomSource(rng RandomSource) *Factory {
	f.rng = rng
	return f
}

// CreateEmbedder puts the query cache in front of inner when caching is enabled.
func (f *Factory) CreateEmbedder(inner service.Embedder) service.Embedder {
	if !f.config.Harness.CacheEnabled {
		return inner
	}
	return service.NewCachedEmbedder(inner, f.createCache(), f.config.Embedding.Model, f.config.Harness.CacheTTLSeconds)
}

// CreateComposer loads the configured template, or the built-in one.
func (f *Factory) CreateComposer() (*PromptComposer, error) {
	template := DefaultTemplate()
	if path := f.config.Pipeline.TemplatePath; path != "" {
		var err error
		if template, err = LoadTemplateFile(path); err != nil {
			return nil, err
		}
	}
	return NewPromptComposer(template)
}

// CreateTemplateWatcher returns nil when no file is configured or watching is off.
func (f *Factory) CreateTemplateWatcher(composer *PromptComposer) (*TemplateWatcher, error) {
	if f.config.Pipeline.TemplatePath == "" || !f.config.Pipeline.WatchTemplate {
		return nil, nil
	}
	return NewTemplateWatcher(f.config.Pipeline.TemplatePath, composer, f.logger)
}

// CreateOrchestrator creates a fully wired RequestOrchestrator. The retriever and provider
// are built by the caller since they depend on the chosen backends.
func (f *Factory) CreateOrchestrator(retriever service.Retriever, provider ports.Provider, metrics *service.MetricsCollector) (*RequestOrchestrator, error) {
	cfg := f.config

	canned, err := NewCannedResponder(cfg.Tone.SarcasmResponses, cfg.Tone.InsultResponses, f.rng)
	if err != nil {
		return nil, fmt.Errorf("canned responder: %w", err)
	}

	fallback, err := NewFallbackResponder(cfg.Pipeline.FallbackPolicy, cfg.Pipeline.FallbackResponses, cfg.Pipeline.RefusalMessage, f.rng)
	if err != nil {
		return nil, fmt.Errorf("fallback responder: %w", err)
	}

	composer, err := f.CreateComposer()
	if err != nil {
		return nil, fmt.Errorf("prompt composer: %w", err)
	}

	limiter := f.createRateLimiter()

	var onEvict func(string)
	if forgetter, ok := limiter.(interface{ Forget(key string) }); ok {
		onEvict = forgetter.Forget
	}

	var guardrails *Guardrails
	if cfg.Harness.EnableGuardrails {
		guardrails = f.CreateGuardrails()
	}

	return NewRequestOrchestrator(Components{
		Tone:       NewToneClassifier(cfg.Tone.SarcasmKeywords, cfg.Tone.InsultKeywords),
		Canned:     canned,
		Fallback:   fallback,
		Retriever:  retriever,
		Composer:   composer,
		Provider:   provider,
		Sessions:   NewSessionRegistry(cfg.Session, onEvict, f.logger),
		Limiter:    limiter,
		Tracer:     f.createTracer(),
		Guardrails: guardrails,
		Metrics:    metrics,
	}, Settings{
		K:             cfg.Retrieval.K,
		HistoryWindow: cfg.Pipeline.HistoryWindow,
		LLMTimeout:    cfg.LLM.Timeout,
		GenerateOptions: ports.Options{
			MaxNewTokens: cfg.LLM.MaxNewTokens,
			Temperature:  cfg.LLM.Temperature,
			TopP:         cfg.LLM.TopP,
		},
		ErrorMessage:     cfg.Pipeline.ErrorMessage,
		RateLimitMessage: cfg.Pipeline.RateLimitMessage,
		RecordFailures:   cfg.Pipeline.RecordFailures,
	}, f.logger)
}

// CreateGuardrails creates guardrails from config.
func (f *Factory) CreateGuardrails() *Guardrails {
	return NewGuardrails(f.config.Harness.MaxOutputSize)
}

func (f *Factory) createCache() ports.Cache {
	if !f.config.Harness.CacheEnabled {
		return &noOpCache{}
	}

	return adapters.NewLRUCache(f.config.Harness.CacheCapacity)
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.config.Harness.RateLimitEnabled {
		return &noOpRateLimiter{}
	}

	return adapters.NewTokenBucket(f.config.Harness.RateLimitCapacity, f.config.Harness.RateLimitRefillRate)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.config.Harness.EnableTracing {
		return &noOpTracer{}
	}

	return adapters.NewZerologTracer(f.logger)
}

// noOpCache implements Cache interface with no-op behavior for testing/disabled cache.
type noOpCache struct{}

func (c *noOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (c *noOpCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return nil
}
func (c *noOpCache) Delete(ctx context.Context, key string) error { return nil }

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// Ensure all no-op types implement their interfaces.
var (
	_ ports.Cache       = (*noOpCache)(nil)
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
)

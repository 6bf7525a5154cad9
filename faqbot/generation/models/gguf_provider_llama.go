//go:build llama && !no_llama

package models

import (
	"context"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness/ports"
	"github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"
)

// GGUFProvider runs a local GGUF chat model through llama.cpp. Loaded instances are kept
// in a fixed pool; each Complete borrows one for the duration of the prediction.
type GGUFProvider struct {
	config *GGUFModelConfig
	pool   chan *llama.LLama
	health *healthTracker
	logger zerolog.Logger
}

// NewGGUFProvider loads config.PoolSize model instances.
func NewGGUFProvider(config *GGUFModelConfig, logger zerolog.Logger) (*GGUFProvider, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	p := &GGUFProvider{
		config: config,
		pool:   make(chan *llama.LLama, config.PoolSize),
		health: newHealthTracker(config.BreakerThreshold, config.BreakerCooldown),
		logger: logger.With().Str("component", "gguf").Str("model_path", config.ModelPath).Logger(),
	}

	for i := 0; i < config.PoolSize; i++ {
		model, err := llama.New(config.ModelPath,
			llama.SetContext(config.ContextSize),
			llama.SetGPULayers(config.GPULayers),
		)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to load model instance %d: %w", i, err)
		}
		p.pool <- model
	}

	p.logger.Info().Int("pool_size", config.PoolSize).Msg("GGUF provider initialized")
	return p, nil
}

func (p *GGUFProvider) borrow(ctx context.Context) (*llama.LLama, error) {
	borrowCtx, cancel := context.WithTimeout(ctx, p.config.BorrowTimeout)
	defer cancel()

	select {
	case model := <-p.pool:
		return model, nil
	case <-borrowCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("borrow timeout after %v", p.config.BorrowTimeout)
	}
}

// Complete generates a continuation of prompt. llama.cpp predictions cannot be cancelled
// mid-flight; when ctx ends first the call returns ctx.Err() and the instance is returned
// to the pool once the prediction finishes.
func (p *GGUFProvider) Complete(ctx context.Context, prompt string, opts ports.Options) (ports.Completion, error) {
	if prompt == "" {
		return ports.Completion{}, fmt.Errorf("prompt cannot be empty")
	}
	if p.health.breakerOpen() {
		return ports.Completion{}, ErrCircuitOpen
	}

	model, err := p.borrow(ctx)
	if err != nil {
		p.health.recordFailure(fmt.Sprintf("borrow failed: %v", err))
		return ports.Completion{}, fmt.Errorf("failed to borrow model: %w", err)
	}

	tokens := p.config.MaxTokens
	if opts.MaxNewTokens > 0 {
		tokens = opts.MaxNewTokens
	}
	temperature, topP := p.config.Temperature, p.config.TopP
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	if opts.TopP > 0 {
		topP = opts.TopP
	}

	predictOpts := []llama.PredictOption{
		llama.SetTemperature(temperature),
		llama.SetTopP(topP),
		llama.SetTokens(tokens),
		llama.SetThreads(p.config.Threads),
	}
	if len(opts.Stop) > 0 {
		predictOpts = append(predictOpts, llama.SetStopWords(opts.Stop...))
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	start := time.Now()

	go func() {
		defer func() { p.pool <- model }()
		text, err := model.Predict(prompt, predictOpts...)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			p.health.recordFailure(r.err.Error())
			return ports.Completion{}, fmt.Errorf("prediction failed: %w", r.err)
		}
		latency := time.Since(start)
		p.health.recordSuccess(latency)
		p.logger.Debug().Dur("duration", latency).Int("output_length", len(r.text)).Msg("Generation completed")
		return ports.Completion{Text: r.text, Model: p.config.ModelPath, Latency: latency}, nil
	case <-ctx.Done():
		p.health.recordFailure(ctx.Err().Error())
		return ports.Completion{}, ctx.Err()
	}
}

// Health returns a snapshot of call statistics.
func (p *GGUFProvider) Health() ModelHealth { return p.health.snapshot() }

// Close frees every idle model instance.
func (p *GGUFProvider) Close() error {
	for {
		select {
		case model := <-p.pool:
			model.Free()
		default:
			p.logger.Info().Msg("GGUF provider closed")
			return nil
		}
	}
}

var _ ports.Provider = (*GGUFProvider)(nil)

//go:build !llama || no_llama

package models

import (
	"context"
	"fmt"

	ports "github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness/ports"
	"github.com/rs/zerolog"
)

// GGUFProvider is unavailable in builds without the llama tag.
type GGUFProvider struct {
	config *GGUFModelConfig
	health *healthTracker
}

// NewGGUFProvider validates config and reports ErrLlamaUnavailable.
func NewGGUFProvider(config *GGUFModelConfig, logger zerolog.Logger) (*GGUFProvider, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Warn().Str("model_path", config.ModelPath).Msg("GGUF provider requested in a build without llama support")
	return nil, ErrLlamaUnavailable
}

// Complete always fails with ErrLlamaUnavailable.
func (p *GGUFProvider) Complete(ctx context.Context, prompt string, opts ports.Options) (ports.Completion, error) {
	return ports.Completion{}, ErrLlamaUnavailable
}

// Health returns an unhealthy snapshot.
func (p *GGUFProvider) Health() ModelHealth {
	return ModelHealth{IsHealthy: false, ErrorMessages: []string{ErrLlamaUnavailable.Error()}}
}

// Close is a no-op.
func (p *GGUFProvider) Close() error { return nil }

var _ ports.Provider = (*GGUFProvider)(nil)

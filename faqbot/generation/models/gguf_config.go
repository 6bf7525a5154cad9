package models

import (
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/faqbot/faqbot/config"
)

// GGUFModelConfig holds configuration for local GGUF model loading
type GGUFModelConfig struct {
	ModelPath   string
	ContextSize int
	GPULayers   int
	Threads     int
	MaxTokens   int
	Temperature float32
	TopP        float32
	// Pooling and resilience settings
	PoolSize         int
	BorrowTimeout    time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// DefaultGGUFConfig returns default configuration for a GGUF chat model
func DefaultGGUFConfig(modelPath string) *GGUFModelConfig {
	return &GGUFModelConfig{
		ModelPath:        modelPath,
		ContextSize:      2048,
		GPULayers:        0, // CPU-only by default
		Threads:          4,
		MaxTokens:        256,
		Temperature:      0.7,
		TopP:             0.9,
		PoolSize:         1,
		BorrowTimeout:    5 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  60 * time.Second,
	}
}

// GGUFConfigFromLLM maps the llm config section onto a GGUF config.
func GGUFConfigFromLLM(cfg config.LLMConfig) *GGUFModelConfig {
	out := DefaultGGUFConfig(cfg.ModelPath)
	if cfg.ContextSize > 0 {
		out.ContextSize = cfg.ContextSize
	}
	if cfg.GPULayers > 0 {
		out.GPULayers = cfg.GPULayers
	}
	if cfg.PoolSize > 0 {
		out.PoolSize = cfg.PoolSize
	}
	if cfg.MaxNewTokens > 0 {
		out.MaxTokens = cfg.MaxNewTokens
	}
	out.Temperature = cfg.Temperature
	out.TopP = cfg.TopP
	return out
}

// ValidateConfig validates the GGUF model configuration
func ValidateConfig(config *GGUFModelConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if config.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}

	if config.ContextSize <= 0 {
		return fmt.Errorf("context size must be positive, got %d", config.ContextSize)
	}

	if config.GPULayers < 0 {
		return fmt.Errorf("GPU layers cannot be negative, got %d", config.GPULayers)
	}

	if config.Threads <= 0 {
		return fmt.Errorf("threads must be positive, got %d", config.Threads)
	}

	if config.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", config.MaxTokens)
	}

	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
	}

	if config.TopP < 0 || config.TopP > 1 {
		return fmt.Errorf("top_p must be between 0 and 1, got %f", config.TopP)
	}

	if config.PoolSize <= 0 {
		return fmt.Errorf("pool size must be positive, got %d", config.PoolSize)
	}

	if config.BorrowTimeout <= 0 {
		return fmt.Errorf("borrow timeout must be positive, got %v", config.BorrowTimeout)
	}

	return nil
}

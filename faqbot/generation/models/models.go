package models

import "errors"

// ModelType represents the role a model plays in the pipeline
type ModelType string

const (
	ModelTypeEmbedding ModelType = "embedding"
	ModelTypeChat      ModelType = "chat"
)

var (
	// ErrCircuitOpen is returned while a provider is cooling down after repeated failures.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrLlamaUnavailable is returned by the gguf provider in builds without the llama tag.
	ErrLlamaUnavailable = errors.New("gguf provider not available: build with -tags llama")
)

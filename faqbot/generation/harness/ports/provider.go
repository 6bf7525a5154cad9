package harnessports

import (
	"context"
	"time"
)

// Options controls sampling and limits for one generation call.
type Options struct {
	MaxNewTokens int
	Temperature  float32
	TopP         float32
	Stop         []string
}

// Usage captures token accounting for telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the provider's non-streaming response.
type Completion struct {
	Text    string
	Model   string
	Latency time.Duration // wall-clock time spent inside the provider
	Usage   *Usage        // optional usage information
}

// Provider is the abstraction for all LLM backends: given a fully composed prompt,
// return the model's reply. Implementations must honour ctx cancellation and deadlines.
type Provider interface {
	Complete(ctx context.Context, prompt string, opts Options) (Completion, error)
}

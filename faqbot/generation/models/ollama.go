package models

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	ports "github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness/ports"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// OllamaConfig configures one Ollama-backed model. The same client type serves both the
// embedding model and the chat model; build one instance per model.
type OllamaConfig struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration // Per HTTP attempt; 0 relies on ctx alone
	MaxRetries int
	Dims       int // Known embedding width; 0 learns it from the first response

	// Backoff between retries: exponential from RetryBase, capped at RetryCap.
	RetryBase time.Duration
	RetryCap  time.Duration

	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// StatusError is a non-2xx answer from the model server.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// OllamaClient talks to an Ollama server (or an OpenAI-compatible embeddings endpoint).
type OllamaClient struct {
	config    OllamaConfig
	client    *http.Client
	dimension atomic.Int64
	health    *healthTracker
	logger    zerolog.Logger
}

// NewOllamaClient creates a client for cfg.Model.
func NewOllamaClient(cfg OllamaConfig, logger zerolog.Logger) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ollama base url cannot be empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama model cannot be empty")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 5 * time.Second
	}

	c := &OllamaClient{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		health: newHealthTracker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		logger: logger.With().Str("component", "ollama").Str("model", cfg.Model).Logger(),
	}
	c.dimension.Store(int64(cfg.Dims))
	return c, nil
}

// Model returns the model tag this client sends.
func (c *OllamaClient) Model() string { return c.config.Model }

// Dimension returns the embedding width, or 0 before the first embedding when not configured.
func (c *OllamaClient) Dimension() int { return int(c.dimension.Load()) }

// Health returns a snapshot of call statistics.
func (c *OllamaClient) Health() ModelHealth { return c.health.snapshot() }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"` // /api/embed
	Embedding  []float64   `json:"embedding"`  // legacy /api/embeddings
	Data       []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"` // OpenAI-compatible
}

// Embed returns one vector per text, in order.
func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var out embedResponse
	if err := c.post(ctx, "/api/embed", embedRequest{Model: c.config.Model, Input: texts}, &out); err != nil {
		return nil, err
	}

	vectors := out.Embeddings
	if len(vectors) == 0 && len(out.Data) > 0 {
		for _, d := range out.Data {
			vectors = append(vectors, d.Embedding)
		}
	}
	if len(vectors) == 0 && len(out.Embedding) > 0 {
		vectors = [][]float64{out.Embedding}
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("ollama returned an empty embedding for input %d", i)
		}
	}

	c.dimension.CompareAndSwap(0, int64(len(vectors[0])))
	if want := c.Dimension(); len(vectors[0]) != want {
		return nil, fmt.Errorf("embedding dimension changed: expected %d, got %d", want, len(vectors[0]))
	}

	return vectors, nil
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float32  `json:"temperature,omitempty"`
	TopP        float32  `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Complete sends prompt to /api/generate as a single non-streaming request.
func (c *OllamaClient) Complete(ctx context.Context, prompt string, opts ports.Options) (ports.Completion, error) {
	if prompt == "" {
		return ports.Completion{}, fmt.Errorf("prompt cannot be empty")
	}

	start := time.Now()
	req := generateRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: opts.Temperature,
			TopP:        opts.TopP,
			NumPredict:  opts.MaxNewTokens,
			Stop:        opts.Stop,
		},
	}

	var out generateResponse
	if err := c.post(ctx, "/api/generate", req, &out); err != nil {
		return ports.Completion{}, err
	}

	model := out.Model
	if model == "" {
		model = c.config.Model
	}
	return ports.Completion{
		Text:    out.Response,
		Model:   model,
		Latency: time.Since(start),
		Usage: &ports.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

// post sends body as JSON and decodes the answer into out, retrying transport errors,
// 429 and 5xx with capped exponential backoff.
func (c *OllamaClient) post(ctx context.Context, path string, body, out any) error {
	if c.health.breakerOpen() {
		return ErrCircuitOpen
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	backoff := retry.NewExponential(c.config.RetryBase)
	backoff = retry.WithCappedDuration(c.config.RetryCap, backoff)
	backoff = retry.WithMaxRetries(uint64(c.config.MaxRetries), backoff)

	start := time.Now()
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.doOnce(ctx, path, payload, out)
		if err == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		c.logger.Warn().Err(err).Str("path", path).Int("attempt", attempt).Msg("Model call failed, retrying")
		return retry.RetryableError(err)
	})

	if err != nil {
		c.health.recordFailure(err.Error())
		return err
	}
	c.health.recordSuccess(time.Since(start))
	return nil
}

func (c *OllamaClient) doOnce(ctx context.Context, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("failed to read ollama response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode ollama response: %w", err)
	}
	return nil
}

// Ensure OllamaClient implements the Provider interface.
var _ ports.Provider = (*OllamaClient)(nil)

package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness/ports"
	"github.com/ZanzyTHEbar/faqbot/faqbot/memory/service"
	"github.com/rs/zerolog"
)

// Outcome names the path a request took through the pipeline.
type Outcome string

const (
	OutcomeCanned      Outcome = "canned"
	OutcomeFallback    Outcome = "fallback"
	OutcomeGenerated   Outcome = "generated"
	OutcomeError       Outcome = "error"
	OutcomeRateLimited Outcome = "rate_limited"
)

// Answer is the result of one question. Response is always set to something presentable;
// Err carries the classified failure, if any.
type Answer struct {
	Response string
	History  []ports.Turn
	Tone     ToneLabel
	Outcome  Outcome
	Err      error
}

// Settings are the per-deployment constants of the pipeline.
type Settings struct {
	K                int
	HistoryWindow    int           // 0 means full history
	LLMTimeout       time.Duration // 0 relies on the caller's ctx
	GenerateOptions  ports.Options
	ErrorMessage     string
	RateLimitMessage string
	RecordFailures   bool
}

// Components are the collaborators of a RequestOrchestrator. Guardrails and Metrics may be nil.
type Components struct {
	Tone       *ToneClassifier
	Canned     *CannedResponder
	Fallback   *FallbackResponder
	Retriever  service.Retriever
	Composer   *PromptComposer
	Provider   ports.Provider
	Sessions   *SessionRegistry
	Limiter    ports.RateLimiter
	Tracer     ports.Tracer
	Guardrails *Guardrails
	Metrics    *service.MetricsCollector
}

// RequestOrchestrator sequences tone check, retrieval, prompt composition, generation and
// history update for one question.
type RequestOrchestrator struct {
	c        Components
	settings Settings
	logger   zerolog.Logger
}

// NewRequestOrchestrator checks that the required collaborators are present.
func NewRequestOrchestrator(c Components, settings Settings, logger zerolog.Logger) (*RequestOrchestrator, error) {
	switch {
	case c.Tone == nil:
		return nil, errors.New("tone classifier is required")
	case c.Canned == nil:
		return nil, errors.New("canned responder is required")
	case c.Fallback == nil:
		return nil, errors.New("fallback responder is required")
	case c.Retriever == nil:
		return nil, errors.New("retriever is required")
	case c.Composer == nil:
		return nil, errors.New("prompt composer is required")
	case c.Provider == nil:
		return nil, errors.New("provider is required")
	case c.Sessions == nil:
		return nil, errors.New("session registry is required")
	}
	if c.Limiter == nil {
		c.Limiter = &noOpRateLimiter{}
	}
	if c.Tracer == nil {
		c.Tracer = &noOpTracer{}
	}

	return &RequestOrchestrator{
		c:        c,
		settings: settings,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Sessions returns the registry the orchestrator answers against.
func (o *RequestOrchestrator) Sessions() *SessionRegistry { return o.c.Sessions }

// Composer returns the prompt composer, for template reloads.
func (o *RequestOrchestrator) Composer() *PromptComposer { return o.c.Composer }

// HandleQuestion answers text within sessionID. It never returns nil and never panics.
func (o *RequestOrchestrator) HandleQuestion(ctx context.Context, sessionID, text string) (ans *Answer) {
	ctx, finish := o.c.Tracer.StartSpan(ctx, "ask", map[string]any{"session_id": sessionID})
	ans = &Answer{History: []ports.Turn{}}
	defer func() {
		o.c.Tracer.Event(ctx, "answered", map[string]any{
			"tone":    string(ans.Tone),
			"outcome": string(ans.Outcome),
		})
		if o.c.Metrics != nil {
			o.c.Metrics.RecordOutcome(string(ans.Outcome))
		}
		finish(ans.Err)
	}()

	release, err := o.c.Limiter.Acquire(ctx, sessionID)
	if err != nil {
		ans.Response = o.settings.RateLimitMessage
		ans.Outcome = OutcomeRateLimited
		ans.Err = tagError(ErrRateLimited, err)
		return ans
	}
	defer release()

	sess, unlock := o.c.Sessions.Acquire(sessionID)
	defer unlock()
	history := sess.History()

	response, tone, outcome, err := o.answer(ctx, history, text)
	ans.Tone = tone

	if err != nil {
		o.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Question failed")
		ans.Response = o.settings.ErrorMessage
		ans.Outcome = OutcomeError
		ans.Err = err
		if o.settings.RecordFailures {
			history.AppendExchange(text, o.settings.ErrorMessage)
			ans.History = history.All()
		}
		return ans
	}

	history.AppendExchange(text, response)
	ans.Response = response
	ans.Outcome = outcome
	ans.History = history.All()
	return ans
}

// answer runs steps 2-5 with the session held. Panics from collaborators become ErrGeneration.
func (o *RequestOrchestrator) answer(ctx context.Context, history *HistoryStore, text string) (response string, tone ToneLabel, outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Interface("panic", r).Msg("Recovered panic while answering")
			response, outcome = "", OutcomeError
			err = tagError(ErrGeneration, fmt.Errorf("panic: %v", r))
		}
	}()

	tone = o.c.Tone.Classify(text)
	if reply, ok := o.c.Canned.Respond(tone); ok {
		return reply, tone, OutcomeCanned, nil
	}

	passages, err := o.c.Retriever.Retrieve(ctx, text, o.settings.K)
	if err != nil {
		return "", tone, OutcomeError, tagError(ErrRetrieval, err)
	}
	o.c.Tracer.Event(ctx, "retrieved", map[string]any{"passages": len(passages)})

	if len(passages) == 0 {
		return o.c.Fallback.Respond(), tone, OutcomeFallback, nil
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	prompt := o.c.Composer.Compose(
		strings.Join(texts, "\n\n"),
		FormatHistory(history.Window(o.settings.HistoryWindow)),
		text,
	)

	reply, err := o.generate(ctx, prompt)
	if err != nil {
		return "", tone, OutcomeError, err
	}
	return reply, tone, OutcomeGenerated, nil
}

func (o *RequestOrchestrator) generate(ctx context.Context, prompt string) (string, error) {
	genCtx := ctx
	if o.settings.LLMTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, o.settings.LLMTimeout)
		defer cancel()
	}

	start := time.Now()
	completion, err := o.c.Provider.Complete(genCtx, prompt, o.settings.GenerateOptions)
	latency := time.Since(start)

	if o.c.Metrics != nil {
		o.c.Metrics.RecordGeneration(latency, err)
	}

	if err != nil {
		o.logger.Debug().Dur("latency", latency).Err(err).Msg("Generation failed")
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			return "", tagError(ErrGenerationTimeout, err)
		}
		return "", tagError(ErrGeneration, err)
	}

	o.logger.Info().
		Dur("latency", latency).
		Str("model", completion.Model).
		Int("prompt_bytes", len(prompt)).
		Msg("Generation completed")

	reply := completion.Text
	if o.c.Guardrails != nil {
		if err := o.c.Guardrails.ValidateOutputSize(reply); err != nil {
			o.logger.Warn().Err(err).Str("model", completion.Model).Msg("Truncating model output")
		}
		reply = o.c.Guardrails.SanitizeOutput(reply)
	}
	return reply, nil
}

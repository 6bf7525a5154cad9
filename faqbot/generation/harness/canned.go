package harness

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// RandomSource picks an index in [0, n). *rand.Rand from math/rand/v2 satisfies it.
type RandomSource interface {
	IntN(n int) int
}

// globalRand uses the goroutine-safe top-level generator.
type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRandomSource returns the process-wide random source.
func DefaultRandomSource() RandomSource { return globalRand{} }

// CannedResponder answers non-neutral questions without touching retrieval or the model.
type CannedResponder struct {
	replies map[ToneLabel][]string
	rng     RandomSource
}

// NewCannedResponder fails when either reply set is empty. A nil rng uses DefaultRandomSource.
func NewCannedResponder(sarcasmReplies, insultReplies []string, rng RandomSource) (*CannedResponder, error) {
	if len(sarcasmReplies) == 0 {
		return nil, errors.New("sarcasm reply set cannot be empty")
	}
	if len(insultReplies) == 0 {
		return nil, errors.New("insult reply set cannot be empty")
	}
	if rng == nil {
		rng = DefaultRandomSource()
	}
	return &CannedResponder{
		replies: map[ToneLabel][]string{
			ToneSarcasm: append([]string(nil), sarcasmReplies...),
			ToneInsult:  append([]string(nil), insultReplies...),
		},
		rng: rng,
	}, nil
}

// Respond returns a reply for label. Neutral yields ("", false).
func (r *CannedResponder) Respond(label ToneLabel) (string, bool) {
	set, ok := r.replies[label]
	if !ok {
		return "", false
	}
	return set[r.rng.IntN(len(set))], true
}

// Fallback policies.
const (
	FallbackRandomApology = "random_apology"
	FallbackFixedRefusal  = "fixed_refusal"
)

// FallbackResponder produces the reply used when retrieval finds nothing.
type FallbackResponder struct {
	policy    string
	apologies []string
	refusal   string
	rng       RandomSource
}

// NewFallbackResponder validates the policy against what it needs.
func NewFallbackResponder(policy string, apologies []string, refusal string, rng RandomSource) (*FallbackResponder, error) {
	if rng == nil {
		rng = DefaultRandomSource()
	}

	switch policy {
	case FallbackRandomApology:
		if len(apologies) == 0 {
			return nil, errors.New("fallback reply set cannot be empty")
		}
	case FallbackFixedRefusal:
		if refusal == "" {
			return nil, errors.New("refusal message cannot be empty")
		}
	default:
		return nil, fmt.Errorf("unknown fallback policy %q", policy)
	}

	return &FallbackResponder{
		policy:    policy,
		apologies: append([]string(nil), apologies...),
		refusal:   refusal,
		rng:       rng,
	}, nil
}

// Respond returns the fallback reply.
func (r *FallbackResponder) Respond() string {
	if r.policy == FallbackFixedRefusal {
		return r.refusal
	}
	return r.apologies[r.rng.IntN(len(r.apologies))]
}

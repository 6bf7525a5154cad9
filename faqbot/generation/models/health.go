package models

import (
	"sync"
	"time"
)

// ModelHealth tracks the health status of a model
type ModelHealth struct {
	IsHealthy      bool          `json:"is_healthy"`
	SuccessRate    float64       `json:"success_rate"`
	AverageLatency time.Duration `json:"average_latency"`
	TotalCalls     int64         `json:"total_calls"`
	SuccessCalls   int64         `json:"success_calls"`
	FailureCalls   int64         `json:"failure_calls"`
	LastUsed       time.Time     `json:"last_used"`
	ErrorMessages  []string      `json:"error_messages,omitempty"`
}

// healthTracker keeps ModelHealth current and trips a breaker after consecutive failures.
type healthTracker struct {
	mu     sync.Mutex
	health ModelHealth

	consecutiveFailures int
	lastFailure         time.Time
	breakerThreshold    int // 0 disables the breaker
	breakerCooldown     time.Duration
	now                 func() time.Time
}

func newHealthTracker(threshold int, cooldown time.Duration) *healthTracker {
	return &healthTracker{
		health:           ModelHealth{IsHealthy: true, SuccessRate: 1.0},
		breakerThreshold: threshold,
		breakerCooldown:  cooldown,
		now:              time.Now,
	}
}

func (h *healthTracker) recordSuccess(duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.health.TotalCalls++
	h.health.SuccessCalls++
	h.health.LastUsed = h.now()
	h.consecutiveFailures = 0

	if h.health.AverageLatency == 0 {
		h.health.AverageLatency = duration
	} else {
		alpha := 0.1
		h.health.AverageLatency = time.Duration(float64(h.health.AverageLatency)*(1-alpha) + float64(duration)*alpha)
	}

	h.health.IsHealthy = true
	h.health.SuccessRate = float64(h.health.SuccessCalls) / float64(h.health.TotalCalls)
}

func (h *healthTracker) recordFailure(errorMsg string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.health.TotalCalls++
	h.health.FailureCalls++
	h.health.LastUsed = h.now()
	h.health.IsHealthy = false

	if len(h.health.ErrorMessages) >= 10 {
		h.health.ErrorMessages = h.health.ErrorMessages[1:]
	}
	h.health.ErrorMessages = append(h.health.ErrorMessages, errorMsg)
	h.health.SuccessRate = float64(h.health.SuccessCalls) / float64(h.health.TotalCalls)

	h.consecutiveFailures++
	h.lastFailure = h.now()
}

// breakerOpen reports whether calls should be refused. The breaker closes again once the
// cooldown has elapsed; the next failure re-opens it immediately.
func (h *healthTracker) breakerOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.breakerThreshold <= 0 || h.consecutiveFailures < h.breakerThreshold {
		return false
	}
	if h.now().Sub(h.lastFailure) > h.breakerCooldown {
		h.consecutiveFailures = h.breakerThreshold - 1
		return false
	}
	return true
}

func (h *healthTracker) snapshot() ModelHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := h.health
	out.ErrorMessages = append([]string(nil), h.health.ErrorMessages...)
	return out
}

package harness

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/faqbot/faqbot/config"
	ports "github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness/ports"
	"github.com/rs/zerolog"
)

// Session is one conversation. Its history may only be touched between Acquire and release.
type Session struct {
	ID string

	mu      sync.Mutex
	history *HistoryStore

	// Guarded by the registry lock.
	lastUsed time.Time
	inflight int
	dropped  bool // Drop hit the session while busy; removed on the last release
	stale    bool // re-acquired after a busy Drop; the next holder starts a fresh history
}

// History returns the session log. Callers must hold the session through Acquire.
func (s *Session) History() *HistoryStore { return s.history }

// SessionRegistry maps session ids to live sessions and evicts idle ones.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	idleTimeout   time.Duration
	sweepInterval time.Duration
	maxSessions   int
	onEvict       func(id string)
	now           func() time.Time
	logger        zerolog.Logger
}

// NewSessionRegistry creates an empty registry. onEvict, if set, is called with the id of
// every session removed by Drop, Sweep or capacity eviction.
func NewSessionRegistry(cfg config.SessionConfig, onEvict func(id string), logger zerolog.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions:      make(map[string]*Session),
		idleTimeout:   cfg.IdleTimeout,
		sweepInterval: cfg.SweepInterval,
		maxSessions:   cfg.MaxSessions,
		onEvict:       onEvict,
		now:           time.Now,
		logger:        logger.With().Str("component", "sessions").Logger(),
	}
}

// Acquire returns the session for id, creating it if needed, with its lock held.
// The release func unlocks it and must be called exactly once.
func (r *SessionRegistry) Acquire(id string) (*Session, func()) {
	var evicted []string

	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok && s.dropped {
		s.dropped, s.stale = false, true
	}
	if !ok {
		if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
			if victim := r.oldestIdleLocked(); victim != "" {
				delete(r.sessions, victim)
				evicted = append(evicted, victim)
			}
		}
		s = &Session{ID: id, history: NewHistoryStore()}
		r.sessions[id] = s
	}
	s.inflight++
	s.lastUsed = r.now()
	r.mu.Unlock()

	r.notifyEvicted(evicted)

	s.mu.Lock()

	r.mu.Lock()
	reset := s.stale
	s.stale = false
	r.mu.Unlock()
	if reset {
		s.history = NewHistoryStore()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Unlock()

			r.mu.Lock()
			s.inflight--
			s.lastUsed = r.now()
			if s.dropped && s.inflight == 0 && r.sessions[s.ID] == s {
				delete(r.sessions, s.ID)
			}
			r.mu.Unlock()
		})
	}
	return s, release
}

// Snapshot copies the history of id under its session lock. Unknown ids report false.
func (r *SessionRegistry) Snapshot(id string) ([]ports.Turn, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok && s.dropped {
		ok = false
	}
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r.mu.Lock()
	stale := s.stale
	r.mu.Unlock()
	if stale {
		return []ports.Turn{}, true
	}
	return s.history.All(), true
}

// Drop forgets id. An idle session is removed at once. A busy one stays registered until its
// last holder releases it, so a request arriving meanwhile queues on the same session and
// starts from an empty history instead of racing a second copy.
func (r *SessionRegistry) Drop(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	switch {
	case !ok || s.dropped:
		ok = false
	case s.inflight == 0:
		delete(r.sessions, id)
	default:
		s.dropped = true
	}
	r.mu.Unlock()

	if ok {
		r.notifyEvicted([]string{id})
	}
	return ok
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.sessions {
		if !s.dropped {
			n++
		}
	}
	return n
}

// Sweep evicts sessions idle for longer than the idle timeout with no request in flight.
func (r *SessionRegistry) Sweep(now time.Time) int {
	if r.idleTimeout <= 0 {
		return 0
	}

	var evicted []string
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.inflight == 0 && now.Sub(s.lastUsed) > r.idleTimeout {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	r.notifyEvicted(evicted)
	return len(evicted)
}

// Run sweeps on every interval tick until ctx is done.
func (r *SessionRegistry) Run(ctx context.Context) {
	if r.sweepInterval <= 0 || r.idleTimeout <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				r.logger.Debug().Int("evicted", n).Int("live", r.Len()).Msg("Swept idle sessions")
			}
		}
	}
}

// oldestIdleLocked returns the least recently used session with nothing in flight.
func (r *SessionRegistry) oldestIdleLocked() string {
	var (
		victim string
		oldest time.Time
	)
	for id, s := range r.sessions {
		if s.inflight > 0 {
			continue
		}
		if victim == "" || s.lastUsed.Before(oldest) {
			victim, oldest = id, s.lastUsed
		}
	}
	if victim == "" {
		r.logger.Warn().Int("max_sessions", r.maxSessions).Msg("Session registry full with every session busy")
	}
	return victim
}

func (r *SessionRegistry) notifyEvicted(ids []string) {
	if r.onEvict == nil {
		return
	}
	for _, id := range ids {
		r.onEvict(id)
	}
}

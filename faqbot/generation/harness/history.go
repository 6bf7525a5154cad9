package harness

import (
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness/ports"
)

// HistoryStore is the append-only conversation log of one session.
// It is not safe for concurrent use; callers hold the session lock.
type HistoryStore struct {
	turns []ports.Turn
	now   func() time.Time
}

// NewHistoryStore returns an empty log.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{now: time.Now}
}

// Append adds one turn at the end.
func (h *HistoryStore) Append(role ports.Role, text string) {
	h.turns = append(h.turns, ports.Turn{Role: role, Content: text, CreatedAt: h.now()})
}

// AppendExchange appends the user turn then the assistant turn.
func (h *HistoryStore) AppendExchange(question, answer string) {
	h.Append(ports.RoleUser, question)
	h.Append(ports.RoleAssistant, answer)
}

// Window returns a copy of the last n turns in chronological order. n <= 0 returns everything.
func (h *HistoryStore) Window(n int) []ports.Turn {
	if n <= 0 || n >= len(h.turns) {
		return h.All()
	}
	out := make([]ports.Turn, n)
	copy(out, h.turns[len(h.turns)-n:])
	return out
}

// All returns a copy of the full log. The result is never nil.
func (h *HistoryStore) All() []ports.Turn {
	out := make([]ports.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns.
func (h *HistoryStore) Len() int { return len(h.turns) }

// FormatHistory renders turns as "Human: ..." / "Ai: ..." lines.
func FormatHistory(turns []ports.Turn) string {
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(t.Role.Label())
		sb.WriteString(": ")
		sb.WriteString(t.Content)
	}
	return sb.String()
}

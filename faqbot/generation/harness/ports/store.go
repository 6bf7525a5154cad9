package harnessports

import (
	"time"
	"unicode"
	"unicode/utf8"
)

// Role identifies the speaker of a turn. The values are the ones sent over the wire.
type Role string

const (
	RoleUser      Role = "human"
	RoleAssistant Role = "ai"
)

// Label is the role as rendered inside prompts: "Human", "Ai".
func (r Role) Label() string {
	if r == "" {
		return ""
	}
	first, size := utf8.DecodeRuneInString(string(r))
	return string(unicode.ToUpper(first)) + string(r)[size:]
}

// Turn represents one conversational message. Turns are never mutated after creation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"-"` // server-side timestamp
}

package harness

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"
)

// Guardrails cleans model output before it reaches the caller.
type Guardrails struct {
	secretFilters []*regexp.Regexp // group 1 is the value masked with [REDACTED]
	bearerFilter  *regexp.Regexp
	maxOutputSize int // bytes; 0 disables truncation
}

// minSecretLen is the shortest value treated as a credential.
const minSecretLen = 6

// NewGuardrails creates guardrails with the default secret filters. A key only matches when
// the separator touches it, so French typography ("mot de passe : ...") never does.
func NewGuardrails(maxOutputSize int) *Guardrails {
	return &Guardrails{
		secretFilters: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bpassword[:=] ?([^\s,;]+)`),
			regexp.MustCompile(`(?i)\bmot de passe[:=] ?([^\s,;]+)`),
			regexp.MustCompile(`(?i)\bapi[_-]?key[:=] ?([^\s,;]+)`),
			regexp.MustCompile(`(?i)\bsecret[:=] ?([^\s,;]+)`),
		},
		bearerFilter:  regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._\-]{16,}`),
		maxOutputSize: maxOutputSize,
	}
}

// SanitizeOutput masks credential-shaped values and truncates to the size limit on a rune
// boundary. Text without such values is returned unchanged.
func (g *Guardrails) SanitizeOutput(output string) string {
	sanitized := output
	for _, filter := range g.secretFilters {
		sanitized = redactValues(filter, sanitized)
	}
	sanitized = g.bearerFilter.ReplaceAllString(sanitized, "[REDACTED]")

	if g.maxOutputSize > 0 && len(sanitized) > g.maxOutputSize {
		cut := g.maxOutputSize
		for cut > 0 && !utf8.RuneStart(sanitized[cut]) {
			cut--
		}
		sanitized = sanitized[:cut]
	}

	return sanitized
}

// redactValues replaces group 1 of every match that looks like a credential.
func redactValues(filter *regexp.Regexp, s string) string {
	matches := filter.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[2], m[3]
		if !secretShaped(s[start:end]) {
			continue
		}
		b.WriteString(s[last:start])
		b.WriteString("[REDACTED]")
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

// secretShaped reports whether v is long enough and mixes in a digit or symbol. Plain words
// such as "allez" or "Paramètres" are not.
func secretShaped(v string) bool {
	if utf8.RuneCountInString(v) < minSecretLen || strings.Contains(v, "://") {
		return false
	}
	return strings.ContainsAny(v, "0123456789!@#$%^&*+=")
}

// ValidateOutputSize reports output longer than the size limit.
func (g *Guardrails) ValidateOutputSize(output string) error {
	if g.maxOutputSize > 0 && len(output) > g.maxOutputSize {
		return fmt.Errorf("output size %d exceeds maximum %d", len(output), g.maxOutputSize)
	}
	return nil
}

// JSONValidator validates request bodies against a compiled JSON schema.
type JSONValidator struct {
	schema *gojsonschema.Schema
}

// NewJSONValidator compiles schema.
func NewJSONValidator(schema []byte) (*JSONValidator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &JSONValidator{schema: s}, nil
}

// Validate checks if JSON data conforms to the schema.
func (v *JSONValidator) Validate(data json.RawMessage) error {
	if !json.Valid(data) {
		return fmt.Errorf("data is not valid JSON")
	}

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

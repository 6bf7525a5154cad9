package harness

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
)

// Template slots.
const (
	SlotContext  = "{context}"
	SlotHistory  = "{history}"
	SlotQuestion = "{question}"
)

//go:embed templates/faq.tmpl
var defaultTemplate string

// DefaultTemplate returns the built-in FAQ prompt template.
func DefaultTemplate() string { return normalizeTemplate(defaultTemplate) }

// Compose fills the three slots of template in a single left-to-right pass. Substituted
// values are not scanned again, so slot syntax inside them is emitted literally.
func Compose(template, context, history, question string) string {
	r := strings.NewReplacer(
		SlotContext, context,
		SlotHistory, history,
		SlotQuestion, question,
	)
	return r.Replace(template)
}

// ValidateTemplate checks that every slot appears at least once.
func ValidateTemplate(template string) error {
	var missing []string
	for _, slot := range []string{SlotContext, SlotHistory, SlotQuestion} {
		if !strings.Contains(template, slot) {
			missing = append(missing, slot)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("template is missing slots: %s", strings.Join(missing, ", "))
	}
	return nil
}

// PromptComposer holds the active template. The template can be swapped while requests
// are composing; each Compose sees either the old or the new one.
type PromptComposer struct {
	template atomic.Pointer[string]
}

// NewPromptComposer validates template and returns a composer for it.
func NewPromptComposer(template string) (*PromptComposer, error) {
	c := &PromptComposer{}
	if err := c.SetTemplate(template); err != nil {
		return nil, err
	}
	return c, nil
}

// Compose fills the current template.
func (c *PromptComposer) Compose(context, history, question string) string {
	return Compose(*c.template.Load(), context, history, question)
}

// Template returns the current template.
func (c *PromptComposer) Template() string { return *c.template.Load() }

// SetTemplate replaces the template. An invalid template leaves the current one in place.
func (c *PromptComposer) SetTemplate(template string) error {
	template = normalizeTemplate(template)
	if err := ValidateTemplate(template); err != nil {
		return err
	}
	c.template.Store(&template)
	return nil
}

// LoadTemplateFile reads and validates a template file.
func LoadTemplateFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", path, err)
	}
	template := normalizeTemplate(string(data))
	if err := ValidateTemplate(template); err != nil {
		return "", fmt.Errorf("invalid template %s: %w", path, err)
	}
	return template, nil
}

func normalizeTemplate(s string) string { return strings.ReplaceAll(s, "\r\n", "\n") }

package pipeline

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/relayml-labs/relayml-go/internal/domain"
)

// Template is the declarative form of the workflow, shipped as YAML. The
// typed state machine in domain is the source of truth; a template that
// disagrees with it is rejected at load time.
type Template struct {
	Name  string   `yaml:"name"`
	Steps []string `yaml:"steps"`
}

// DefaultTemplate matches the built-in step order.
func DefaultTemplate() Template {
	steps := make([]string, 0, len(domain.StepOrder))
	for _, step := range domain.StepOrder {
		steps = append(steps, string(step))
	}
	return Template{Name: "relayml-train-deploy", Steps: steps}
}

// LoadTemplate parses and validates a YAML workflow template.
func LoadTemplate(r io.Reader) (Template, error) {
	var tpl Template
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&tpl); err != nil {
		return Template{}, fmt.Errorf("decode template: %w", err)
	}
	if err := tpl.Validate(); err != nil {
		return Template{}, err
	}
	return tpl, nil
}

// LoadTemplateFile reads a template from disk, falling back to the built-in
// template when path is empty.
func LoadTemplateFile(path string) (Template, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTemplate(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Template{}, fmt.Errorf("open template: %w", err)
	}
	defer f.Close()
	return LoadTemplate(f)
}

// Validate checks the template against the canonical step order.
func (t Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("template name is required")
	}
	if len(t.Steps) != len(domain.StepOrder) {
		return fmt.Errorf("template has %d steps, want %d", len(t.Steps), len(domain.StepOrder))
	}
	for i, raw := range t.Steps {
		state, err := domain.ParseExecutionState(raw)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if state != domain.StepOrder[i] {
			return fmt.Errorf("step %d is %q, want %q", i, state, domain.StepOrder[i])
		}
	}
	return nil
}

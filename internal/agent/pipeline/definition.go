package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coursegen-core/server/internal/agent/model"
)

// Definition is an ordered list of steps loaded from YAML.
type Definition struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Model       string    `yaml:"model,omitempty"`
	Steps       []StepDef `yaml:"steps"`
}

// StepDef is one prompt-templated model call.
type StepDef struct {
	Name     string       `yaml:"name"`
	Template string       `yaml:"template"`
	Schema   model.Schema `yaml:"schema,omitempty"`
	System   string       `yaml:"system,omitempty"`
	// Optional overrides of the model choice defaults.
	Temperature *float32 `yaml:"temperature,omitempty"`
	JSONMode    *bool    `yaml:"json_mode,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
	// SkipPriorOutputs renders the step from the run inputs alone.
	SkipPriorOutputs bool `yaml:"skip_prior_outputs,omitempty"`
}

var stepNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)

// TemplateSource resolves template keys.
type TemplateSource interface {
	Template(key string) (string, error)
}

// ParseDefinition decodes a YAML definition and validates it.
func ParseDefinition(b []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode pipeline definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDefinition reads a definition file.
func LoadDefinition(path string) (*Definition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline definition: %w", err)
	}
	def, err := ParseDefinition(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// ListDefinitions returns the names of *.yaml and *.yml files in dir, sorted
// and without extension.
func ListDefinitions(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list pipeline definitions: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(names)
	return names, nil
}

// Validate checks the definition's structure.
func (d *Definition) Validate() error {
	var errs []error
	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, errors.New("pipeline name is empty"))
	}
	if len(d.Steps) == 0 {
		errs = append(errs, errors.New("pipeline has no steps"))
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for i, step := range d.Steps {
		switch {
		case !stepNamePattern.MatchString(step.Name):
			errs = append(errs, fmt.Errorf("step %d: invalid name %q", i, step.Name))
		case hasKey(seen, step.Name):
			errs = append(errs, fmt.Errorf("step %d: duplicate name %q", i, step.Name))
		}
		seen[step.Name] = struct{}{}
		if strings.TrimSpace(step.Template) == "" {
			errs = append(errs, fmt.Errorf("step %q: template is empty", step.Name))
		}
		if step.Temperature != nil && (*step.Temperature < 0 || *step.Temperature > 2) {
			errs = append(errs, fmt.Errorf("step %q: temperature %v out of range", step.Name, *step.Temperature))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid pipeline %q: %w", d.Name, errors.Join(errs...))
	}
	return nil
}

// CheckTemplates verifies that every step's template resolves.
func (d *Definition) CheckTemplates(src TemplateSource) error {
	var errs []error
	for _, step := range d.Steps {
		if _, err := src.Template(step.Template); err != nil {
			errs = append(errs, fmt.Errorf("step %q: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}

// StepNames returns the step names in order.
func (d *Definition) StepNames() []string {
	names := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		names[i] = s.Name
	}
	return names
}

func hasKey(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}

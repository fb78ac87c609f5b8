package lifecycle

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

// GeneralType is used when no template keyword matches
const GeneralType = "general"

// Phase is one stage of a project template
type Phase struct {
	Name         string   `yaml:"name"`
	DurationDays int      `yaml:"duration_days"`
	Keywords     []string `yaml:"keywords"`
}

// Template describes a project type and its ordered phases
type Template struct {
	Type     string   `yaml:"type"`
	Keywords []string `yaml:"keywords"`
	Phases   []Phase  `yaml:"phases"`
}

// ParseTemplates decodes a YAML list of templates
func ParseTemplates(data []byte) ([]Template, error) {
	var tmpls []Template
	if err := yaml.Unmarshal(data, &tmpls); err != nil {
		return nil, fmt.Errorf("parse lifecycle templates: %w", err)
	}
	for i := range tmpls {
		t := &tmpls[i]
		if t.Type == "" {
			return nil, fmt.Errorf("template %d has no type", i)
		}
		if len(t.Phases) == 0 {
			return nil, fmt.Errorf("template %s has no phases", t.Type)
		}
		t.Keywords = lowerAll(t.Keywords)
		for j := range t.Phases {
			t.Phases[j].Keywords = lowerAll(t.Phases[j].Keywords)
		}
	}
	return tmpls, nil
}

// DefaultTemplates returns the built-in templates
func DefaultTemplates() []Template {
	tmpls, err := ParseTemplates(defaultTemplates)
	if err != nil {
		panic(err) // embedded file is validated by tests
	}
	return tmpls
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

package persona

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"personabench/internal/mode"
)

//go:embed templates.yaml
var templatesYAML []byte

type variantTemplates struct {
	InitialEnglish string `yaml:"initial_english"`
	InitialNative  string `yaml:"initial_native"`
	Refine         string `yaml:"refine"`
}

var registry map[string]variantTemplates

func init() {
	registry = map[string]variantTemplates{}
	if err := yaml.Unmarshal(templatesYAML, &registry); err != nil {
		panic(fmt.Sprintf("persona: bad embedded templates: %v", err))
	}
	for _, v := range []mode.Variant{mode.P1, mode.P2} {
		t, ok := registry[string(v)]
		if !ok || t.InitialEnglish == "" || t.InitialNative == "" || t.Refine == "" {
			panic(fmt.Sprintf("persona: incomplete templates for variant %s", v))
		}
	}
}

// InitialTemplate resolves the persona-generation system prompt for
// (variant, policy, language).
func InitialTemplate(m mode.Mode, l Locale) string {
	t := registry[string(m.Variant)]
	raw := t.InitialNative
	if m.GeneratesEnglish() {
		raw = t.InitialEnglish
	}
	return fill(raw, l)
}

// RefineTemplate resolves the persona-refinement system prompt.
func RefineTemplate(m mode.Mode, l Locale) string {
	return fill(registry[string(m.Variant)].Refine, l)
}

func fill(t string, l Locale) string {
	t = strings.ReplaceAll(t, "{language}", l.Language)
	t = strings.ReplaceAll(t, "{second_person_pronoun}", l.Pronoun)
	return strings.TrimSpace(t)
}

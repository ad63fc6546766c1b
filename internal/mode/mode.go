// Package mode defines the run configuration tuple: persona language
// policy plus prompt variant.
package mode

import (
	"fmt"
	"strings"
)

// Policy controls which language the persona is generated in and which
// language it ultimately surfaces in.
type Policy string

const (
	// EnglishOnly: generate and surface the persona in English.
	EnglishOnly Policy = "english"
	// NativeOnly: generate and surface in the country's language.
	NativeOnly Policy = "native"
	// EnglishToLocal: generate in English, translate to the country's
	// language before use.
	EnglishToLocal Policy = "e2l"
	// LocalToEnglish: generate in the country's language, translate to
	// English before use.
	LocalToEnglish Policy = "l2e"
)

// Variant selects one of the two prompt template families.
type Variant string

const (
	P1 Variant = "p1"
	P2 Variant = "p2"
)

type Mode struct {
	Policy  Policy
	Variant Variant
}

// Parse accepts the CLI form "{english|native|e2l|l2e}_{p1|p2}".
func Parse(s string) (Mode, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "_")
	if len(parts) != 2 {
		return Mode{}, fmt.Errorf("mode: want {policy}_{variant}, got %q", s)
	}
	var m Mode
	switch Policy(parts[0]) {
	case EnglishOnly, NativeOnly, EnglishToLocal, LocalToEnglish:
		m.Policy = Policy(parts[0])
	default:
		return Mode{}, fmt.Errorf("mode: unknown policy %q", parts[0])
	}
	switch Variant(parts[1]) {
	case P1, P2:
		m.Variant = Variant(parts[1])
	default:
		return Mode{}, fmt.Errorf("mode: unknown variant %q", parts[1])
	}
	return m, nil
}

func (m Mode) String() string {
	return string(m.Policy) + "_" + string(m.Variant)
}

// GeneratesEnglish reports whether persona generation itself happens in
// English (before any translation step).
func (m Mode) GeneratesEnglish() bool {
	return m.Policy == EnglishOnly || m.Policy == EnglishToLocal
}

// SurfacesEnglish reports whether the persona handed to the evaluator is
// English.
func (m Mode) SurfacesEnglish() bool {
	return m.Policy == EnglishOnly || m.Policy == LocalToEnglish
}

// Translates reports whether the policy includes a translation bridge.
func (m Mode) Translates() bool {
	return m.Policy == EnglishToLocal || m.Policy == LocalToEnglish
}

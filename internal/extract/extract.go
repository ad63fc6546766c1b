// Package extract parses model output into the small JSON shapes the
// pipeline expects, repairing near-JSON before giving up.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrUnparseable = errors.New("extract: unparseable model output")

// Refinement is the persona-refinement reply shape.
type Refinement struct {
	Reasoning      string `json:"reasoning"`
	RevisedPersona string `json:"revised_persona"`
}

// EasyAnswer is the MCQ reply shape.
type EasyAnswer struct {
	Answer    string `json:"answer"`
	Reasoning string `json:"reasoning"`
}

// HardAnswer is the true/false reply shape.
type HardAnswer struct {
	Correct   bool   `json:"correct"`
	Reasoning string `json:"reasoning"`
}

func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Repair rewrites near-JSON containing the two known keys into a strict
// two-field object. Valid JSON passes through untouched, so the repair
// is idempotent on anything that already parses.
func Repair(raw, keyA, keyB string) string {
	s := StripCodeFences(raw)
	if json.Valid([]byte(s)) {
		return s
	}
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")

	ia := keyIndex(s, keyA)
	ib := keyIndex(s, keyB)
	if ia < 0 || ib < 0 {
		return StripCodeFences(raw)
	}
	first, second := keyA, keyB
	fi, si := ia, ib
	if ib < ia {
		first, second = keyB, keyA
		fi, si = ib, ia
	}
	firstVal := sliceValue(s, fi+len(first), si)
	secondVal := sliceValue(s, si+len(second), len(s))

	return fmt.Sprintf(`{"%s": "%s", "%s": "%s"}`,
		first, sanitizeValue(firstVal),
		second, sanitizeValue(secondVal))
}

// keyIndex finds a key occurrence whether or not the model quoted it.
func keyIndex(s, key string) int {
	if i := strings.Index(s, `"`+key+`"`); i >= 0 {
		return i + 1
	}
	return strings.Index(s, key)
}

func sliceValue(s string, from, to int) string {
	if from < 0 || to > len(s) || from > to {
		return ""
	}
	v := s[from:to]
	// Drop the key's closing quote/colon and the separator run that
	// belonged to the next key.
	v = strings.TrimLeft(v, `"': `)
	v = strings.TrimRight(v, `"' ,`)
	return v
}

func sanitizeValue(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, `"'`)
	// Escape backslashes first so content like paths survives the
	// re-quoting; inner double quotes are demoted to single quotes.
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `'`)
	return v
}

// ParseRefinement extracts {reasoning, revised_persona}. pronounPrefixes
// are the locale's second-person openers: raw text beginning with one of
// them is accepted as a bare revised persona with empty reasoning.
func ParseRefinement(raw string, pronounPrefixes []string) (*Refinement, error) {
	s := StripCodeFences(raw)

	var out Refinement
	if err := json.Unmarshal([]byte(s), &out); err == nil && out.RevisedPersona != "" {
		return &out, nil
	}
	repaired := Repair(s, "reasoning", "revised_persona")
	if err := json.Unmarshal([]byte(repaired), &out); err == nil && out.RevisedPersona != "" {
		return &out, nil
	}
	for _, p := range pronounPrefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return &Refinement{RevisedPersona: s}, nil
		}
	}
	return nil, ErrUnparseable
}

var letterRe = regexp.MustCompile(`\b([A-D])\b`)

// ParseEasyAnswer extracts the chosen letter and reasoning. options maps
// letters to option text; when the model echoes option text instead of a
// letter, the text is mapped back (first occurrence wins on duplicates).
func ParseEasyAnswer(raw string, options map[string]string) (letter, reasoning string, err error) {
	s := StripCodeFences(raw)

	var out EasyAnswer
	if jerr := json.Unmarshal([]byte(s), &out); jerr != nil {
		repaired := Repair(s, "answer", "reasoning")
		if jerr = json.Unmarshal([]byte(repaired), &out); jerr != nil {
			out = EasyAnswer{}
		}
	}
	if out.Answer != "" {
		if l, ok := normalizeLetter(out.Answer, options); ok {
			return l, out.Reasoning, nil
		}
	}
	// Last resort: first standalone option letter anywhere in the output.
	if m := letterRe.FindStringSubmatch(s); m != nil {
		return m[1], out.Reasoning, nil
	}
	return "", "", ErrUnparseable
}

func normalizeLetter(answer string, options map[string]string) (string, bool) {
	a := strings.TrimSpace(answer)
	if len(a) == 1 {
		u := strings.ToUpper(a)
		if u >= "A" && u <= "D" {
			return u, true
		}
	}
	// Letter with decoration, e.g. "(B)" or "B."
	if m := letterRe.FindStringSubmatch(strings.ToUpper(a)); m != nil && len(a) <= 4 {
		return m[1], true
	}
	// Option text instead of a letter. First occurrence in A..D order
	// breaks ties between identical option strings.
	for _, l := range []string{"A", "B", "C", "D"} {
		if opt, ok := options[l]; ok && strings.EqualFold(strings.TrimSpace(opt), a) {
			return l, true
		}
	}
	return "", false
}

// ParseHardAnswer extracts a boolean verdict and reasoning.
func ParseHardAnswer(raw string) (correct bool, reasoning string, err error) {
	s := StripCodeFences(raw)

	// The verdict key must actually be present; a valid object without it
	// falls through to the lenient chain instead of defaulting to false.
	var strict struct {
		Correct   *bool  `json:"correct"`
		Reasoning string `json:"reasoning"`
	}
	if jerr := json.Unmarshal([]byte(s), &strict); jerr == nil && strict.Correct != nil {
		return *strict.Correct, strict.Reasoning, nil
	}
	// The repair quotes both values, so "correct" comes back as a string.
	var loose struct {
		Correct   string `json:"correct"`
		Reasoning string `json:"reasoning"`
	}
	repaired := Repair(s, "correct", "reasoning")
	if jerr := json.Unmarshal([]byte(repaired), &loose); jerr == nil {
		if b, ok := parseBoolToken(loose.Correct); ok {
			return b, loose.Reasoning, nil
		}
	}
	// Substring fallback: whichever token appears first wins.
	lower := strings.ToLower(s)
	ti := strings.Index(lower, "true")
	fi := strings.Index(lower, "false")
	switch {
	case ti >= 0 && (fi < 0 || ti < fi):
		return true, "", nil
	case fi >= 0:
		return false, "", nil
	}
	return false, "", ErrUnparseable
}

// parseBoolToken normalizes the boolean spellings datasets use.
func parseBoolToken(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	}
	return false, false
}

// ParseBool exposes the dataset boolean normalization (true/false/1/0).
func ParseBool(s string) (bool, error) {
	if b, ok := parseBoolToken(s); ok {
		return b, nil
	}
	return false, fmt.Errorf("extract: not a boolean token: %q", s)
}

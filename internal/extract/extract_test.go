package extract

import (
	"encoding/json"
	"testing"
)

func TestRepairIdempotentOnValidJSON(t *testing.T) {
	valid := `{"answer": "B", "reasoning": "it is the local custom"}`
	repaired := Repair(valid, "answer", "reasoning")

	var a, b map[string]string
	if err := json.Unmarshal([]byte(valid), &a); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	if err := json.Unmarshal([]byte(repaired), &b); err != nil {
		t.Fatalf("repaired output no longer parses: %v", err)
	}
	if a["answer"] != b["answer"] || a["reasoning"] != b["reasoning"] {
		t.Fatalf("repair changed a valid object: %v vs %v", a, b)
	}
}

func TestRepairRecoversBareKeyValueText(t *testing.T) {
	got := Repair(`answer: C, reasoning: because`, "answer", "reasoning")
	var out EasyAnswer
	if err := json.Unmarshal([]byte(got), &out); err != nil {
		t.Fatalf("repaired %q does not parse: %v", got, err)
	}
	if out.Answer != "C" || out.Reasoning != "because" {
		t.Fatalf("got %+v", out)
	}
}

func TestRepairNormalizesInnerQuotes(t *testing.T) {
	raw := `{"reasoning": "they say "hello" there", "revised_persona": "You are an expert"}`
	got := Repair(raw, "reasoning", "revised_persona")
	var out Refinement
	if err := json.Unmarshal([]byte(got), &out); err != nil {
		t.Fatalf("repaired %q does not parse: %v", got, err)
	}
	if out.RevisedPersona != "You are an expert" {
		t.Fatalf("revised_persona = %q", out.RevisedPersona)
	}
	if out.Reasoning != "they say 'hello' there" {
		t.Fatalf("reasoning = %q", out.Reasoning)
	}
}

func TestRepairPreservesBackslashes(t *testing.T) {
	raw := `answer: C, reasoning: stored under C:\data\notes`
	got := Repair(raw, "answer", "reasoning")
	var out EasyAnswer
	if err := json.Unmarshal([]byte(got), &out); err != nil {
		t.Fatalf("repaired %q does not parse: %v", got, err)
	}
	if out.Reasoning != `stored under C:\data\notes` {
		t.Fatalf("reasoning = %q", out.Reasoning)
	}
}

func TestParseEasyAnswer(t *testing.T) {
	options := map[string]string{"A": "rice", "B": "bread", "C": "noodles", "D": "rice"}

	cases := []struct {
		name   string
		raw    string
		letter string
	}{
		{"strict json", `{"answer": "B", "reasoning": "staple food"}`, "B"},
		{"fenced", "```json\n{\"answer\": \"c\", \"reasoning\": \"x\"}\n```", "C"},
		{"decorated letter", `{"answer": "(D)", "reasoning": "x"}`, "D"},
		{"option text", `{"answer": "noodles", "reasoning": "x"}`, "C"},
		{"duplicate option text picks first", `{"answer": "rice", "reasoning": "x"}`, "A"},
		{"near json", `answer: C, reasoning: because`, "C"},
		{"regex fallback", `The best option is B here.`, "B"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			letter, _, err := ParseEasyAnswer(c.raw, options)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if letter != c.letter {
				t.Fatalf("letter = %q, want %q", letter, c.letter)
			}
		})
	}

	if _, _, err := ParseEasyAnswer("no option here", options); err == nil {
		t.Fatalf("expected error for unanswerable output")
	}
}

func TestParseHardAnswer(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		correct bool
	}{
		{"strict json", `{"correct": true, "reasoning": "matches tradition"}`, true},
		{"near json", `correct: false, reasoning: not a custom`, false},
		{"substring true", `I believe this is True.`, true},
		{"substring false first", `false, though some say true`, false},
		// Valid JSON without the verdict key must not default to false.
		{"missing verdict key", `{"reasoning": "it is true"}`, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, _, err := ParseHardAnswer(c.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != c.correct {
				t.Fatalf("correct = %v, want %v", got, c.correct)
			}
		})
	}

	if _, _, err := ParseHardAnswer("cannot say"); err == nil {
		t.Fatalf("expected error without any boolean token")
	}
}

func TestParseRefinement(t *testing.T) {
	r, err := ParseRefinement(`{"reasoning": "shift expertise", "revised_persona": "You are a historian"}`, nil)
	if err != nil {
		t.Fatalf("strict: %v", err)
	}
	if r.RevisedPersona != "You are a historian" {
		t.Fatalf("got %+v", r)
	}

	r, err = ParseRefinement("You are a seasoned cultural guide from Kyoto.", []string{"You are"})
	if err != nil {
		t.Fatalf("pronoun fallback: %v", err)
	}
	if r.Reasoning != "" || r.RevisedPersona == "" {
		t.Fatalf("pronoun fallback got %+v", r)
	}

	if _, err := ParseRefinement("garbage with no keys", []string{"You are"}); err == nil {
		t.Fatalf("expected ErrUnparseable")
	}
}

func TestParseBool(t *testing.T) {
	for in, want := range map[string]bool{"true": true, "1": true, "false": false, "0": false, "True ": true} {
		got, err := ParseBool(in)
		if err != nil || got != want {
			t.Fatalf("ParseBool(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseBool("yes"); err == nil {
		t.Fatalf("expected error for non-token")
	}
}

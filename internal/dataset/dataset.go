// Package dataset adapts the external benchmark shapes (read-only) into
// the typed items the pipeline evaluates.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"personabench/internal/extract"
)

type Difficulty string

const (
	Easy Difficulty = "easy"
	Hard Difficulty = "hard"
)

func ParseDifficulty(s string) (Difficulty, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return Easy, nil
	case "hard":
		return Hard, nil
	}
	return "", fmt.Errorf("dataset: unknown difficulty %q", s)
}

// EasyItem is a 4-option MCQ scored per question.
type EasyItem struct {
	ID            int
	Question      string
	Options       map[string]string // A..D
	CorrectOption string            // A..D
	Country       string
}

// HardItem is one true/false sub-item; hard questions always come in
// groups of exactly 4 sharing Question and Country.
type HardItem struct {
	ID            int
	Question      string
	PromptOption  string
	CorrectAnswer bool
	Country       string
	GroupID       int
}

// mcqRow / tfRow mirror the external annotation file shape.
type mcqRow struct {
	PromptQuestion string `json:"prompt_question"`
	PromptOptionA  string `json:"prompt_option_a"`
	PromptOptionB  string `json:"prompt_option_b"`
	PromptOptionC  string `json:"prompt_option_c"`
	PromptOptionD  string `json:"prompt_option_d"`
	Answer         string `json:"answer"`
	Country        string `json:"country"`
}

type tfRow struct {
	PromptQuestion string          `json:"prompt_question"`
	PromptOption   string          `json:"prompt_option"`
	Answer         json.RawMessage `json:"answer"` // "true"/"false"/1/0
	Country        string          `json:"country"`
}

// LoadEasy reads an MCQ file (JSON array of rows). Rows with any empty
// field are dropped.
func LoadEasy(path string) ([]EasyItem, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []mcqRow
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("dataset: bad MCQ file %s: %w", path, err)
	}
	var items []EasyItem
	for i, r := range rows {
		it := EasyItem{
			ID:       i,
			Question: strings.TrimSpace(r.PromptQuestion),
			Options: map[string]string{
				"A": strings.TrimSpace(r.PromptOptionA),
				"B": strings.TrimSpace(r.PromptOptionB),
				"C": strings.TrimSpace(r.PromptOptionC),
				"D": strings.TrimSpace(r.PromptOptionD),
			},
			CorrectOption: strings.ToUpper(strings.TrimSpace(r.Answer)),
			Country:       strings.TrimSpace(r.Country),
		}
		if !it.Valid() {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

func (it EasyItem) Valid() bool {
	if it.Question == "" || it.Country == "" {
		return false
	}
	if len(it.CorrectOption) != 1 || it.CorrectOption < "A" || it.CorrectOption > "D" {
		return false
	}
	for _, l := range []string{"A", "B", "C", "D"} {
		if it.Options[l] == "" {
			return false
		}
	}
	return true
}

// LoadHard reads a T/F file and regroups rows into 4-item groups.
// Incomplete or mixed groups are dropped whole.
func LoadHard(path string) ([][4]HardItem, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []tfRow
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("dataset: bad T/F file %s: %w", path, err)
	}

	var groups [][4]HardItem
	for start := 0; start+4 <= len(rows); start += 4 {
		var group [4]HardItem
		ok := true
		for j := 0; j < 4; j++ {
			r := rows[start+j]
			correct, err := parseAnswer(r.Answer)
			if err != nil {
				ok = false
				break
			}
			group[j] = HardItem{
				ID:            start + j,
				Question:      strings.TrimSpace(r.PromptQuestion),
				PromptOption:  strings.TrimSpace(r.PromptOption),
				CorrectAnswer: correct,
				Country:       strings.TrimSpace(r.Country),
				GroupID:       start / 4,
			}
			if group[j].Question == "" || group[j].PromptOption == "" || group[j].Country == "" {
				ok = false
				break
			}
		}
		// All 4 must share the same question and country.
		for j := 1; ok && j < 4; j++ {
			if group[j].Question != group[0].Question || group[j].Country != group[0].Country {
				ok = false
			}
		}
		if ok {
			groups = append(groups, group)
		}
	}
	return groups, nil
}

// parseAnswer normalizes true/false/"true"/"false"/1/0/"1"/"0".
func parseAnswer(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return extract.ParseBool(fmt.Sprintf("%d", n))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return extract.ParseBool(s)
	}
	return false, fmt.Errorf("dataset: bad answer %s", string(raw))
}

// FreeAnswerItem is a short-answer question with human annotations.
type FreeAnswerItem struct {
	Question    string         `json:"question"`
	ModelAnswer string         `json:"model_answer"`
	Country     string         `json:"country"`
	Annotations []Annotation   `json:"annotations"`
	IDKs        map[string]int `json:"idks"`
}

type Annotation struct {
	Answers   []string `json:"answers"`
	EnAnswers []string `json:"en_answers"`
	Count     int      `json:"count"`
}

// Answerable reports whether annotators considered the question
// answerable: excluded when no-answer + not-applicable >= 3 or idk >= 5.
func (f FreeAnswerItem) Answerable() bool {
	if f.IDKs["no-answer"]+f.IDKs["not-applicable"] >= 3 {
		return false
	}
	return f.IDKs["idk"] < 5
}

// GroundTruths flattens all annotated answers (native and English).
func (f FreeAnswerItem) GroundTruths() []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[strings.ToLower(s)] {
			seen[strings.ToLower(s)] = true
			out = append(out, s)
		}
	}
	for _, a := range f.Annotations {
		for _, s := range a.Answers {
			add(s)
		}
		for _, s := range a.EnAnswers {
			add(s)
		}
	}
	return out
}

func LoadFreeAnswers(path string) ([]FreeAnswerItem, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []FreeAnswerItem
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("dataset: bad free-answer file %s: %w", path, err)
	}
	return items, nil
}

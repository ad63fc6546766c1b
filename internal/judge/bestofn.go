// Package judge holds the two optional LLM-as-judge scorers: post-hoc
// best-of-N trajectory selection and free-answer equivalence grading.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"personabench/internal/chat"
	"personabench/internal/dataset"
	"personabench/internal/extract"
	"personabench/internal/logging"
	"personabench/internal/mode"
	"personabench/internal/store"
)

// promptBudget caps the composed judge prompt; over-budget trajectories
// are truncated proportionally, reasoning first, then persona. Answers
// are never touched.
const promptBudget = 8000

// Trajectory is one iteration's (persona, answer, reasoning) for a
// question.
type Trajectory struct {
	Persona   string
	Answer    string
	Reasoning string
}

// Selection is the judge's pick; Index is 1-based.
type Selection struct {
	Index     int
	Reasoning string
}

type Judge struct {
	LLM chat.Engine
	Log *logging.Logger
}

const selectionSystem = `You compare several answer trajectories for the same question and pick
the one whose answer is best supported by its persona and reasoning.
Reply with JSON only, exactly
{"selected_trajectory_index": <1-based number>, "reasoning": "..."}.`

// Select asks the judge to pick the best trajectory. options may be nil
// for true/false items.
func (j *Judge) Select(ctx context.Context, question, country string, options map[string]string, trajs []Trajectory) (Selection, error) {
	if len(trajs) == 0 {
		return Selection{}, fmt.Errorf("judge: no trajectories")
	}

	var head strings.Builder
	fmt.Fprintf(&head, "Question: %s\nCountry: %s\n", question, country)
	for _, l := range []string{"A", "B", "C", "D"} {
		if opt, ok := options[l]; ok {
			fmt.Fprintf(&head, "%s. %s\n", l, opt)
		}
	}
	fixed := head.Len() + len(selectionSystem)

	fitted := fitBudget(trajs, fixed)
	var b strings.Builder
	b.WriteString(head.String())
	for i, tr := range fitted {
		fmt.Fprintf(&b, "\nTrajectory %d:\npersona: %s\nanswer: %s\nreasoning: %s\n",
			i+1, tr.Persona, tr.Answer, tr.Reasoning)
	}

	c, err := j.LLM.Complete(ctx,
		[]chat.Message{chat.System(selectionSystem), chat.User(b.String())},
		chat.Options{Temperature: 0.0, MaxTokens: 512})
	if err != nil {
		return Selection{}, err
	}
	sel, err := parseSelection(c.Text, len(trajs))
	if err != nil {
		return Selection{}, err
	}
	return sel, nil
}

var indexRe = regexp.MustCompile(`[1-9][0-9]*`)

func parseSelection(raw string, n int) (Selection, error) {
	s := extract.StripCodeFences(raw)

	var strict struct {
		Index     int    `json:"selected_trajectory_index"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(s), &strict); err == nil && validIndex(strict.Index, n) {
		return Selection{Index: strict.Index, Reasoning: strict.Reasoning}, nil
	}
	var loose struct {
		Index     string `json:"selected_trajectory_index"`
		Reasoning string `json:"reasoning"`
	}
	repaired := extract.Repair(s, "selected_trajectory_index", "reasoning")
	if err := json.Unmarshal([]byte(repaired), &loose); err == nil {
		if i, err := strconv.Atoi(strings.TrimSpace(loose.Index)); err == nil && validIndex(i, n) {
			return Selection{Index: i, Reasoning: loose.Reasoning}, nil
		}
	}
	if m := indexRe.FindString(s); m != "" {
		if i, _ := strconv.Atoi(m); validIndex(i, n) {
			return Selection{Index: i}, nil
		}
	}
	return Selection{}, extract.ErrUnparseable
}

func validIndex(i, n int) bool { return i >= 1 && i <= n }

// fitBudget shrinks trajectory fields until the prompt fits. The cut is
// spread proportionally over the field being reduced.
func fitBudget(trajs []Trajectory, fixed int) []Trajectory {
	out := make([]Trajectory, len(trajs))
	copy(out, trajs)

	size := func() int {
		n := fixed
		for _, tr := range out {
			n += len(tr.Persona) + len(tr.Answer) + len(tr.Reasoning) + 64
		}
		return n
	}
	over := size() - promptBudget
	if over <= 0 {
		return out
	}

	over = shrink(out, over, func(tr *Trajectory) *string { return &tr.Reasoning })
	if over > 0 {
		shrink(out, over, func(tr *Trajectory) *string { return &tr.Persona })
	}
	return out
}

func shrink(trajs []Trajectory, need int, field func(*Trajectory) *string) int {
	total := 0
	for i := range trajs {
		total += len(*field(&trajs[i]))
	}
	if total == 0 {
		return need
	}
	cut := need
	if cut > total {
		cut = total
	}
	for i := range trajs {
		f := field(&trajs[i])
		share := cut * len(*f) / total
		*f = truncateRunes(*f, len(*f)-share)
	}
	return need - cut
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// RunBestOfN scores the store's completed iterations with the selection
// judge and records the result under the reserved iteration id.
func RunBestOfN(ctx context.Context, j *Judge, st store.Store, diff dataset.Difficulty, m mode.Mode, runID string) (store.Accuracy, error) {
	rows, err := st.Load(ctx, store.Filter{})
	if err != nil {
		return store.Accuracy{}, err
	}
	var scoped []store.Row
	for _, r := range rows {
		if r.Difficulty == string(diff) && r.Mode == m.String() && r.Iteration >= 1 {
			scoped = append(scoped, r)
		}
	}

	var picked []store.Row
	correct, total := 0, 0
	if diff == dataset.Easy {
		for _, q := range groupEasy(scoped) {
			sel, row, err := j.selectRow(ctx, q)
			if err != nil {
				j.Log.Warn("best-of-n selection failed", "question", q.rows[0].Question, "err", err)
				continue
			}
			total++
			if strings.EqualFold(row.ModelAnswer, row.CorrectAnswer) {
				correct++
			}
			row.Iteration = store.BestOfNIteration
			row.RefineReasoning = sel.Reasoning
			picked = append(picked, row)
		}
	} else {
		for _, g := range groupHard(scoped) {
			allOK := true
			var groupRows []store.Row
			failed := false
			for _, q := range g {
				sel, row, err := j.selectRow(ctx, q)
				if err != nil {
					j.Log.Warn("best-of-n selection failed", "question", q.rows[0].Question, "err", err)
					failed = true
					break
				}
				if !strings.EqualFold(row.ModelAnswer, row.CorrectAnswer) {
					allOK = false
				}
				row.Iteration = store.BestOfNIteration
				row.RefineReasoning = sel.Reasoning
				groupRows = append(groupRows, row)
			}
			if failed {
				continue
			}
			total++
			if allOK {
				correct++
			}
			picked = append(picked, groupRows...)
		}
	}

	if err := st.WriteIteration(ctx, store.BestOfNIteration, string(diff), m.String(), picked); err != nil {
		return store.Accuracy{}, err
	}
	acc := store.Accuracy{
		Iteration:  store.BestOfNIteration,
		Difficulty: string(diff),
		Mode:       m.String(),
		Correct:    correct,
		Total:      total,
		RunID:      runID,
	}
	if total > 0 {
		acc.Accuracy = float64(correct) / float64(total)
	}
	if err := st.WriteAccuracy(ctx, acc); err != nil {
		return store.Accuracy{}, err
	}
	return acc, nil
}

// questionRows are one question's (or one Hard sub-item's) rows across
// iterations, in iteration order.
type questionRows struct {
	rows []store.Row
}

func (j *Judge) selectRow(ctx context.Context, q questionRows) (Selection, store.Row, error) {
	trajs := make([]Trajectory, len(q.rows))
	for i, r := range q.rows {
		trajs[i] = Trajectory{Persona: r.Persona, Answer: r.ModelAnswer, Reasoning: r.Reasoning}
	}
	var options map[string]string
	if q.rows[0].OptionsJSON != "" {
		_ = json.Unmarshal([]byte(q.rows[0].OptionsJSON), &options)
	}
	sel, err := j.Select(ctx, q.rows[0].Question, q.rows[0].Country, options, trajs)
	if err != nil {
		return Selection{}, store.Row{}, err
	}
	return sel, q.rows[sel.Index-1], nil
}

func groupEasy(rows []store.Row) []questionRows {
	byKey := map[string]int{}
	var out []questionRows
	for _, r := range rows {
		k := r.Question + "\x00" + r.Country
		i, ok := byKey[k]
		if !ok {
			i = len(out)
			byKey[k] = i
			out = append(out, questionRows{})
		}
		out[i].rows = append(out[i].rows, r)
	}
	return out
}

// groupHard buckets rows per (question, sub-item option); each outer
// element is one question group of 4 sub-item buckets.
func groupHard(rows []store.Row) [][]questionRows {
	type groupIdx struct {
		index map[string]int
		order []string
	}
	byQuestion := map[string]*groupIdx{}
	var questionOrder []string
	buckets := map[string]map[string][]store.Row{}

	for _, r := range rows {
		qk := r.Question + "\x00" + r.Country
		g, ok := byQuestion[qk]
		if !ok {
			g = &groupIdx{index: map[string]int{}}
			byQuestion[qk] = g
			buckets[qk] = map[string][]store.Row{}
			questionOrder = append(questionOrder, qk)
		}
		if _, ok := g.index[r.PromptOption]; !ok {
			g.index[r.PromptOption] = len(g.order)
			g.order = append(g.order, r.PromptOption)
		}
		buckets[qk][r.PromptOption] = append(buckets[qk][r.PromptOption], r)
	}

	var out [][]questionRows
	for _, qk := range questionOrder {
		g := byQuestion[qk]
		if len(g.order) != 4 {
			continue
		}
		var group []questionRows
		for _, opt := range g.order {
			group = append(group, questionRows{rows: buckets[qk][opt]})
		}
		out = append(out, group)
	}
	return out
}

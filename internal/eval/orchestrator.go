package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"personabench/internal/dataset"
	"personabench/internal/logging"
	"personabench/internal/mode"
	"personabench/internal/persona"
	"personabench/internal/store"
)

// PersonaEngine is the slice of the persona engine the loop needs.
type PersonaEngine interface {
	Initial(ctx context.Context, question, country string, m mode.Mode) (persona.Result, error)
	Refine(ctx context.Context, in persona.RefineInput, m mode.Mode) (persona.RefineOutput, error)
}

// Notifier receives per-iteration progress; implementations are optional.
type Notifier interface {
	IterationDone(ctx context.Context, acc store.Accuracy)
}

// Dataset bundles the items for one run; exactly one of the two slices
// is populated depending on Difficulty.
type Dataset struct {
	Difficulty dataset.Difficulty
	Easy       []dataset.EasyItem
	HardGroups [][4]dataset.HardItem
}

func (d Dataset) questionCount() int {
	if d.Difficulty == dataset.Hard {
		return len(d.HardGroups)
	}
	return len(d.Easy)
}

// Orchestrator drives the N-iteration persona-refinement loop.
type Orchestrator struct {
	Personas  PersonaEngine
	Evaluator *Evaluator
	Store     store.Store
	Log       *logging.Logger
	Notifier  Notifier
	RunID     string
}

// Run executes iterations 1..n (or resumes after the highest committed
// iteration) and returns the per-iteration accuracies in order.
func (o *Orchestrator) Run(ctx context.Context, ds Dataset, m mode.Mode, n int, resume bool) ([]store.Accuracy, error) {
	if n < 1 {
		return nil, fmt.Errorf("eval: num iterations must be >= 1, got %d", n)
	}

	start := 1
	var accs []store.Accuracy
	if resume {
		iters, err := o.Store.Iterations(ctx, string(ds.Difficulty), m.String())
		if err != nil {
			return nil, err
		}
		if len(iters) > 0 {
			start = iters[len(iters)-1] + 1
			// Completed iterations are trusted as-is; recompute their
			// accuracies from rows for the report.
			for _, it := range iters {
				acc, err := o.recomputeAccuracy(ctx, it, ds.Difficulty, m)
				if err != nil {
					return nil, err
				}
				accs = append(accs, acc)
				printAccuracy(acc)
			}
		}
	}

	for iter := start; iter <= n; iter++ {
		if err := ctx.Err(); err != nil {
			return accs, err
		}
		acc, err := o.runIteration(ctx, iter, ds, m)
		if err != nil {
			return accs, err
		}
		accs = append(accs, acc)
		printAccuracy(acc)
		if o.Notifier != nil {
			o.Notifier.IterationDone(ctx, acc)
		}
		// Degenerate success: every question skipped; later iterations
		// would skip them again, so stop here.
		if acc.Total == 0 {
			o.Log.Warn("no questions evaluated, stopping early", "iteration", iter)
			break
		}
	}
	return accs, nil
}

func (o *Orchestrator) runIteration(ctx context.Context, iter int, ds Dataset, m mode.Mode) (store.Accuracy, error) {
	o.Log.Info("starting iteration",
		"iteration", iter, "mode", m.String(), "difficulty", string(ds.Difficulty), "questions", ds.questionCount())

	var priors map[string]prior
	if iter > 1 {
		var err error
		priors, err = o.loadPriors(ctx, iter-1, ds.Difficulty, m)
		if err != nil {
			return store.Accuracy{}, err
		}
	}

	var rows []store.Row
	correct, total := 0, 0
	if ds.Difficulty == dataset.Hard {
		for _, group := range ds.HardGroups {
			if err := ctx.Err(); err != nil {
				return store.Accuracy{}, err
			}
			groupRows, ok, evaluated := o.runHardQuestion(ctx, iter, group, m, priors)
			if !evaluated {
				continue
			}
			rows = append(rows, groupRows...)
			total++
			if ok {
				correct++
			}
		}
	} else {
		for _, it := range ds.Easy {
			if err := ctx.Err(); err != nil {
				return store.Accuracy{}, err
			}
			row, ok, evaluated := o.runEasyQuestion(ctx, iter, it, m, priors)
			if !evaluated {
				continue
			}
			rows = append(rows, row)
			total++
			if ok {
				correct++
			}
		}
	}

	if err := o.Store.WriteIteration(ctx, iter, string(ds.Difficulty), m.String(), rows); err != nil {
		return store.Accuracy{}, err
	}
	acc := store.Accuracy{
		Iteration:  iter,
		Difficulty: string(ds.Difficulty),
		Mode:       m.String(),
		Correct:    correct,
		Total:      total,
		RunID:      o.RunID,
	}
	if total > 0 {
		acc.Accuracy = float64(correct) / float64(total)
	}
	if err := o.Store.WriteAccuracy(ctx, acc); err != nil {
		return store.Accuracy{}, err
	}
	return acc, nil
}

// prior is the previous iteration's trajectory for one question.
type prior struct {
	Persona     string
	ModelAnswer string
	Reasoning   string
}

func questionKey(question, country string) string {
	return question + "\x00" + country
}

// loadPriors indexes iteration prev's rows by question. For Hard the
// first row of each group carries the prior, matching the group's shared
// persona.
func (o *Orchestrator) loadPriors(ctx context.Context, prev int, diff dataset.Difficulty, m mode.Mode) (map[string]prior, error) {
	rows, err := o.Store.Load(ctx, store.Filter{Iteration: &prev})
	if err != nil {
		return nil, err
	}
	priors := make(map[string]prior)
	for _, r := range rows {
		if r.Difficulty != string(diff) || r.Mode != m.String() {
			continue
		}
		k := questionKey(r.Question, r.Country)
		if _, seen := priors[k]; seen && diff == dataset.Hard {
			// Only the group's first row feeds refinement.
			continue
		}
		priors[k] = prior{
			Persona:     r.Persona,
			ModelAnswer: r.ModelAnswer,
			Reasoning:   r.Reasoning,
		}
	}
	return priors, nil
}

// personaFor produces this iteration's persona for one question, or
// ok=false when the question must be skipped. Missing prior at
// iteration > 1 skips the question: absent rows are never regenerated.
func (o *Orchestrator) personaFor(ctx context.Context, iter int, question, country string,
	options map[string]string, diff dataset.Difficulty, m mode.Mode, priors map[string]prior) (p persona.Result, refineReasoning string, ok bool) {

	if iter == 1 {
		res, err := o.Personas.Initial(ctx, question, country, m)
		if err != nil {
			o.logSkip(iter, question, "initial persona", err)
			return persona.Result{}, "", false
		}
		return res, "", true
	}

	pr, found := priors[questionKey(question, country)]
	if !found {
		o.Log.Debug("no prior row, skipping question", "iteration", iter, "question", question)
		return persona.Result{}, "", false
	}
	out, err := o.Personas.Refine(ctx, persona.RefineInput{
		Difficulty: diff,
		Question:   question,
		Country:    country,
		Options:    options,
		Prior: persona.Prior{
			Persona:     pr.Persona,
			ModelAnswer: pr.ModelAnswer,
			Reasoning:   pr.Reasoning,
		},
	}, m)
	if err != nil {
		o.logSkip(iter, question, "refinement", err)
		return persona.Result{}, "", false
	}
	return persona.Result{Persona: out.Persona, Pretranslated: out.Pretranslated}, out.Reasoning, true
}

func (o *Orchestrator) runEasyQuestion(ctx context.Context, iter int, it dataset.EasyItem,
	m mode.Mode, priors map[string]prior) (store.Row, bool, bool) {

	p, refineReasoning, ok := o.personaFor(ctx, iter, it.Question, it.Country, it.Options, dataset.Easy, m, priors)
	if !ok {
		return store.Row{}, false, false
	}
	v, err := o.Evaluator.AnswerEasy(ctx, p.Persona, it, m)
	if err != nil {
		o.logSkip(iter, it.Question, "answer", err)
		return store.Row{}, false, false
	}
	opts, _ := json.Marshal(it.Options)
	row := store.Row{
		Iteration:            iter,
		Mode:                 m.String(),
		PromptVariant:        string(m.Variant),
		Difficulty:           string(dataset.Easy),
		Question:             it.Question,
		OptionsJSON:          string(opts),
		Country:              it.Country,
		CorrectAnswer:        it.CorrectOption,
		Persona:              p.Persona,
		PretranslatedPersona: p.Pretranslated,
		RefineReasoning:      refineReasoning,
		Thinking:             v.Thinking,
		ModelAnswer:          v.Letter,
		Reasoning:            v.Reasoning,
	}
	return row, v.Correct, true
}

func (o *Orchestrator) runHardQuestion(ctx context.Context, iter int, group [4]dataset.HardItem,
	m mode.Mode, priors map[string]prior) ([]store.Row, bool, bool) {

	p, refineReasoning, ok := o.personaFor(ctx, iter, group[0].Question, group[0].Country, nil, dataset.Hard, m, priors)
	if !ok {
		return nil, false, false
	}
	verdicts, allCorrect, err := o.Evaluator.AnswerHardGroup(ctx, p.Persona, group, m)
	if err != nil {
		// Incomplete group: discard whole, write nothing.
		o.logSkip(iter, group[0].Question, "hard group", err)
		return nil, false, false
	}
	rows := make([]store.Row, 0, 4)
	for i, it := range group {
		rows = append(rows, store.Row{
			Iteration:            iter,
			Mode:                 m.String(),
			PromptVariant:        string(m.Variant),
			Difficulty:           string(dataset.Hard),
			Question:             it.Question,
			PromptOption:         it.PromptOption,
			Country:              it.Country,
			CorrectAnswer:        strconv.FormatBool(it.CorrectAnswer),
			Persona:              p.Persona,
			PretranslatedPersona: p.Pretranslated,
			RefineReasoning:      refineReasoning,
			Thinking:             verdicts[i].Thinking,
			ModelAnswer:          strconv.FormatBool(verdicts[i].Answer),
			Reasoning:            verdicts[i].Reasoning,
		})
	}
	return rows, allCorrect, true
}

func (o *Orchestrator) logSkip(iter int, question, stage string, err error) {
	if errors.Is(err, persona.ErrUnsatisfiable) {
		o.Log.Warn("skipping question: language policy unsatisfiable", "iteration", iter, "question", question)
		return
	}
	o.Log.Warn("skipping question", "iteration", iter, "stage", stage, "question", question, "err", err)
}

// recomputeAccuracy derives an iteration's accuracy from its stored rows.
func (o *Orchestrator) recomputeAccuracy(ctx context.Context, iter int, diff dataset.Difficulty, m mode.Mode) (store.Accuracy, error) {
	rows, err := o.Store.Load(ctx, store.Filter{Iteration: &iter})
	if err != nil {
		return store.Accuracy{}, err
	}
	var scoped []store.Row
	for _, r := range rows {
		if r.Difficulty == string(diff) && r.Mode == m.String() {
			scoped = append(scoped, r)
		}
	}
	correct, total := ScoreRows(scoped, diff)
	acc := store.Accuracy{
		Iteration:  iter,
		Difficulty: string(diff),
		Mode:       m.String(),
		Correct:    correct,
		Total:      total,
		RunID:      o.RunID,
	}
	if total > 0 {
		acc.Accuracy = float64(correct) / float64(total)
	}
	return acc, nil
}

// ScoreRows recounts correctness from stored rows. Hard rows are scored
// in their contiguous groups of 4, all-or-nothing.
func ScoreRows(rows []store.Row, diff dataset.Difficulty) (correct, total int) {
	if diff == dataset.Easy {
		for _, r := range rows {
			total++
			if strings.EqualFold(r.ModelAnswer, r.CorrectAnswer) {
				correct++
			}
		}
		return correct, total
	}
	for i := 0; i+4 <= len(rows); i += 4 {
		total++
		all := true
		for j := i; j < i+4; j++ {
			if !strings.EqualFold(rows[j].ModelAnswer, rows[j].CorrectAnswer) {
				all = false
			}
		}
		if all {
			correct++
		}
	}
	return correct, total
}

func printAccuracy(acc store.Accuracy) {
	fmt.Printf("iteration %d: accuracy %.4f (%d/%d)\n", acc.Iteration, acc.Accuracy, acc.Correct, acc.Total)
}

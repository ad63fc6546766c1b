package eval

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"personabench/internal/chat"
	"personabench/internal/dataset"
	"personabench/internal/logging"
	"personabench/internal/mode"
	"personabench/internal/persona"
	"personabench/internal/store"
)

type scriptedLLM struct {
	replies []string
	calls   int
}

func (s *scriptedLLM) Name() string  { return "scripted" }
func (s *scriptedLLM) Model() string { return "test" }
func (s *scriptedLLM) Close() error  { return nil }
func (s *scriptedLLM) Complete(context.Context, []chat.Message, chat.Options) (chat.Completion, error) {
	if s.calls >= len(s.replies) {
		return chat.Completion{}, errors.New("script exhausted")
	}
	r := s.replies[s.calls]
	s.calls++
	return chat.Completion{Text: r}, nil
}

type fakePersonas struct {
	initialCalls int
	refineCalls  int
	initialErr   error
	lastPrior    persona.Prior
}

func (f *fakePersonas) Initial(context.Context, string, string, mode.Mode) (persona.Result, error) {
	f.initialCalls++
	if f.initialErr != nil {
		return persona.Result{}, f.initialErr
	}
	return persona.Result{Persona: "You are a well-travelled cultural expert."}, nil
}

func (f *fakePersonas) Refine(_ context.Context, in persona.RefineInput, _ mode.Mode) (persona.RefineOutput, error) {
	f.refineCalls++
	f.lastPrior = in.Prior
	return persona.RefineOutput{
		Reasoning: "broaden domain expertise",
		Persona:   "You are a domain expert with deep local knowledge.",
	}, nil
}

func newTestOrchestrator(t *testing.T, llm chat.Engine, p PersonaEngine) (*Orchestrator, store.Store) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return &Orchestrator{
		Personas:  p,
		Evaluator: &Evaluator{LLM: llm, Log: logging.Nop()},
		Store:     st,
		Log:       logging.Nop(),
		RunID:     "test-run",
	}, st
}

func easyDataset() Dataset {
	return Dataset{
		Difficulty: dataset.Easy,
		Easy: []dataset.EasyItem{{
			ID:            0,
			Question:      "What is traditionally eaten on New Year?",
			Options:       map[string]string{"A": "A1", "B": "A2", "C": "A3", "D": "A4"},
			CorrectOption: "B",
			Country:       "Japan",
		}},
	}
}

func TestEasyTwoIterations(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"answer": "C", "reasoning": "guess"}`,
		`{"answer": "B", "reasoning": "local custom"}`,
	}}
	p := &fakePersonas{}
	o, st := newTestOrchestrator(t, llm, p)
	m := mode.Mode{Policy: mode.EnglishOnly, Variant: mode.P1}

	accs, err := o.Run(context.Background(), easyDataset(), m, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(accs) != 2 {
		t.Fatalf("expected 2 accuracies, got %d", len(accs))
	}
	if accs[0].Correct != 0 || accs[0].Total != 1 {
		t.Fatalf("iteration 1: %+v", accs[0])
	}
	if accs[1].Correct != 1 || accs[1].Total != 1 {
		t.Fatalf("iteration 2: %+v", accs[1])
	}
	if p.initialCalls != 1 || p.refineCalls != 1 {
		t.Fatalf("persona calls: initial=%d refine=%d", p.initialCalls, p.refineCalls)
	}
	if p.lastPrior.ModelAnswer != "C" || p.lastPrior.Reasoning != "guess" {
		t.Fatalf("refine prior = %+v", p.lastPrior)
	}

	rows, err := st.Load(context.Background(), store.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].RefineReasoning != "" {
		t.Fatalf("iteration 1 must have no refine reasoning")
	}
	if rows[1].RefineReasoning != "broaden domain expertise" {
		t.Fatalf("iteration 2 refine reasoning = %q", rows[1].RefineReasoning)
	}

	// Stored accuracy must equal recomputation from rows.
	metas, err := st.Accuracies(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, meta := range metas {
		iter := meta.Iteration
		stored, err := st.Load(context.Background(), store.Filter{Iteration: &iter})
		if err != nil {
			t.Fatal(err)
		}
		correct, total := ScoreRows(stored, dataset.Easy)
		if correct != meta.Correct || total != meta.Total {
			t.Fatalf("iteration %d: rows say %d/%d, metadata says %d/%d",
				iter, correct, total, meta.Correct, meta.Total)
		}
	}
}

func hardDataset() Dataset {
	group := [4]dataset.HardItem{}
	truths := [4]bool{true, false, true, true}
	for i := range group {
		group[i] = dataset.HardItem{
			ID:            i,
			Question:      "Which of these are wedding customs?",
			PromptOption:  "custom " + string(rune('a'+i)),
			CorrectAnswer: truths[i],
			Country:       "Japan",
			GroupID:       0,
		}
	}
	return Dataset{Difficulty: dataset.Hard, HardGroups: [][4]dataset.HardItem{group}}
}

func TestHardGroupAllOrNothing(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		// Iteration 1: one sub-item wrong -> group incorrect.
		`{"correct": true, "reasoning": "r"}`,
		`{"correct": false, "reasoning": "r"}`,
		`{"correct": true, "reasoning": "r"}`,
		`{"correct": false, "reasoning": "r"}`,
		// Iteration 2: all four right -> group correct.
		`{"correct": true, "reasoning": "r"}`,
		`{"correct": false, "reasoning": "r"}`,
		`{"correct": true, "reasoning": "r"}`,
		`{"correct": true, "reasoning": "r"}`,
	}}
	o, st := newTestOrchestrator(t, llm, &fakePersonas{})
	m := mode.Mode{Policy: mode.NativeOnly, Variant: mode.P1}

	accs, err := o.Run(context.Background(), hardDataset(), m, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if accs[0].Correct != 0 || accs[0].Total != 1 {
		t.Fatalf("iteration 1: %+v", accs[0])
	}
	if accs[1].Correct != 1 || accs[1].Total != 1 {
		t.Fatalf("iteration 2: %+v", accs[1])
	}

	// Rows per (iteration, question) must be exactly 4 and contiguous.
	rows, err := st.Load(context.Background(), store.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 8 {
		t.Fatalf("expected 8 rows, got %d", len(rows))
	}
	for i, r := range rows {
		wantIter := 1 + i/4
		if r.Iteration != wantIter {
			t.Fatalf("row %d: iteration %d, want %d (groups must stay contiguous)", i, r.Iteration, wantIter)
		}
	}
}

func TestHardGroupDiscardedOnParseFailure(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"correct": true, "reasoning": "r"}`,
		`nonsense with no verdict tokens at all`,
		`{"correct": true, "reasoning": "r"}`,
		`{"correct": true, "reasoning": "r"}`,
	}}
	o, st := newTestOrchestrator(t, llm, &fakePersonas{})
	m := mode.Mode{Policy: mode.EnglishOnly, Variant: mode.P1}

	accs, err := o.Run(context.Background(), hardDataset(), m, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if accs[0].Total != 0 {
		t.Fatalf("discarded group must not count: %+v", accs[0])
	}
	// All four sub-items were still asked (no data-layer short-circuit).
	if llm.calls != 4 {
		t.Fatalf("expected all 4 sub-items evaluated, got %d calls", llm.calls)
	}
	rows, _ := st.Load(context.Background(), store.Filter{})
	if len(rows) != 0 {
		t.Fatalf("partial group must write no rows, got %d", len(rows))
	}
}

func TestSingleIterationSkipsRefinement(t *testing.T) {
	llm := &scriptedLLM{replies: []string{`{"answer": "B", "reasoning": "r"}`}}
	p := &fakePersonas{}
	o, _ := newTestOrchestrator(t, llm, p)

	_, err := o.Run(context.Background(), easyDataset(), mode.Mode{Policy: mode.EnglishOnly, Variant: mode.P1}, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if p.refineCalls != 0 {
		t.Fatalf("refinement must not run for N=1")
	}
}

func TestUnsatisfiablePersonaSkipsItem(t *testing.T) {
	llm := &scriptedLLM{}
	p := &fakePersonas{initialErr: persona.ErrUnsatisfiable}
	o, st := newTestOrchestrator(t, llm, p)

	accs, err := o.Run(context.Background(), easyDataset(), mode.Mode{Policy: mode.NativeOnly, Variant: mode.P1}, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	// Everything skipped in iteration 1: degenerate success, loop stops.
	if len(accs) != 1 {
		t.Fatalf("expected early stop after empty iteration, got %d accuracies", len(accs))
	}
	if accs[0].Total != 0 || accs[0].Accuracy != 0 {
		t.Fatalf("empty iteration accuracy: %+v", accs[0])
	}
	rows, _ := st.Load(context.Background(), store.Filter{})
	if len(rows) != 0 {
		t.Fatalf("skipped items must write no rows")
	}
}

func TestResumeStartsAfterCommittedIterations(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"answer": "C", "reasoning": "r"}`,
		`{"answer": "B", "reasoning": "r"}`,
	}}
	p := &fakePersonas{}
	o, st := newTestOrchestrator(t, llm, p)
	m := mode.Mode{Policy: mode.EnglishOnly, Variant: mode.P1}

	if _, err := o.Run(context.Background(), easyDataset(), m, 2, false); err != nil {
		t.Fatal(err)
	}

	// New process over the same store: must begin at iteration 3.
	llm2 := &scriptedLLM{replies: []string{`{"answer": "B", "reasoning": "r"}`}}
	p2 := &fakePersonas{}
	o2 := &Orchestrator{
		Personas:  p2,
		Evaluator: &Evaluator{LLM: llm2, Log: logging.Nop()},
		Store:     st,
		Log:       logging.Nop(),
		RunID:     "resumed-run",
	}
	accs, err := o2.Run(context.Background(), easyDataset(), m, 3, true)
	if err != nil {
		t.Fatal(err)
	}
	// Two recomputed + one new.
	if len(accs) != 3 {
		t.Fatalf("expected 3 reported accuracies, got %d", len(accs))
	}
	if p2.initialCalls != 0 {
		t.Fatalf("resume must not regenerate initial personas")
	}
	if p2.refineCalls != 1 {
		t.Fatalf("resume must refine from the committed iteration, refineCalls=%d", p2.refineCalls)
	}

	iters, err := st.Iterations(context.Background(), "easy", m.String())
	if err != nil {
		t.Fatal(err)
	}
	if len(iters) != 3 || iters[0] != 1 || iters[2] != 3 {
		t.Fatalf("iterations = %v, want [1 2 3]", iters)
	}
}

func TestResumeAgainstEmptyStoreStartsFresh(t *testing.T) {
	llm := &scriptedLLM{replies: []string{`{"answer": "B", "reasoning": "r"}`}}
	o, _ := newTestOrchestrator(t, llm, &fakePersonas{})

	accs, err := o.Run(context.Background(), easyDataset(), mode.Mode{Policy: mode.EnglishOnly, Variant: mode.P1}, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(accs) != 1 || accs[0].Iteration != 1 {
		t.Fatalf("resume on empty store must start at 1: %+v", accs)
	}
}

func TestResumeIgnoresOtherModesIterations(t *testing.T) {
	llm := &scriptedLLM{replies: []string{`{"answer": "B", "reasoning": "r"}`}}
	p := &fakePersonas{}
	o, st := newTestOrchestrator(t, llm, p)

	if _, err := o.Run(context.Background(), easyDataset(), mode.Mode{Policy: mode.EnglishOnly, Variant: mode.P1}, 1, false); err != nil {
		t.Fatal(err)
	}

	// A different mode resuming against the same store must start fresh:
	// the english run's iteration 1 is not this run's iteration 1.
	llm2 := &scriptedLLM{replies: []string{`{"answer": "B", "reasoning": "r"}`}}
	p2 := &fakePersonas{}
	o2 := &Orchestrator{
		Personas:  p2,
		Evaluator: &Evaluator{LLM: llm2, Log: logging.Nop()},
		Store:     st,
		Log:       logging.Nop(),
		RunID:     "native-run",
	}
	native := mode.Mode{Policy: mode.NativeOnly, Variant: mode.P1}
	accs, err := o2.Run(context.Background(), easyDataset(), native, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if p2.initialCalls != 1 {
		t.Fatalf("initialCalls = %d, want the native run to generate its own persona", p2.initialCalls)
	}
	if len(accs) != 1 || accs[0].Iteration != 1 || accs[0].Total != 1 {
		t.Fatalf("native run accuracies = %+v, want a real iteration 1", accs)
	}

	iters, err := st.Iterations(context.Background(), "easy", native.String())
	if err != nil {
		t.Fatal(err)
	}
	if len(iters) != 1 || iters[0] != 1 {
		t.Fatalf("native iterations = %v, want [1]", iters)
	}
}

func TestEmptyDatasetNoCrash(t *testing.T) {
	o, _ := newTestOrchestrator(t, &scriptedLLM{}, &fakePersonas{})

	accs, err := o.Run(context.Background(), Dataset{Difficulty: dataset.Easy}, mode.Mode{Policy: mode.EnglishOnly, Variant: mode.P1}, 3, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(accs) != 1 || accs[0].Total != 0 {
		t.Fatalf("zero-item dataset: %+v", accs)
	}
}

package judge

import (
	"context"
	"fmt"
	"strings"

	"personabench/internal/chat"
	"personabench/internal/dataset"
)

const equivalenceSystem = `You grade short answers. Given a question, a model's answer and the set
of human ground-truth answers, decide whether the model's answer is
semantically equivalent to any ground truth. Reply with exactly one
word: YES or NO.`

// Equivalent asks whether answer matches any of truths in meaning.
func (j *Judge) Equivalent(ctx context.Context, question, answer string, truths []string) (bool, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\nModel's answer: %s\n\nGround-truth answers:\n", question, answer)
	for _, t := range truths {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	b.WriteString("\nIs the model's answer semantically equivalent to any ground truth? Answer YES or NO.")

	c, err := j.LLM.Complete(ctx,
		[]chat.Message{chat.System(equivalenceSystem), chat.User(b.String())},
		chat.Options{Temperature: 0.0, MaxTokens: 16})
	if err != nil {
		return false, err
	}
	return parseYesNo(c.Text)
}

func parseYesNo(raw string) (bool, error) {
	u := strings.ToUpper(raw)
	yes := strings.Index(u, "YES")
	no := strings.Index(u, "NO")
	switch {
	case yes >= 0 && (no < 0 || yes < no):
		return true, nil
	case no >= 0:
		return false, nil
	}
	return false, fmt.Errorf("judge: verdict %q is neither YES nor NO", raw)
}

// FreeAnswerReport is the outcome of grading one free-answer file.
type FreeAnswerReport struct {
	Correct int
	Total   int
	Skipped int // unanswerable per annotators
	Failed  int // judge errors
}

func (r FreeAnswerReport) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

// GradeFreeAnswers scores items the annotators considered answerable.
func (j *Judge) GradeFreeAnswers(ctx context.Context, items []dataset.FreeAnswerItem) (FreeAnswerReport, error) {
	var rep FreeAnswerReport
	for _, it := range items {
		if !it.Answerable() {
			rep.Skipped++
			continue
		}
		truths := it.GroundTruths()
		if len(truths) == 0 {
			rep.Skipped++
			continue
		}
		ok, err := j.Equivalent(ctx, it.Question, it.ModelAnswer, truths)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			j.Log.Warn("free-answer grading failed", "question", it.Question, "err", err)
			rep.Failed++
			continue
		}
		rep.Total++
		if ok {
			rep.Correct++
		}
	}
	return rep, nil
}

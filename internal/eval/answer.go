// Package eval runs questions under a persona and drives the iterative
// refinement loop.
package eval

import (
	"context"
	"fmt"
	"strings"

	"personabench/internal/chat"
	"personabench/internal/dataset"
	"personabench/internal/extract"
	"personabench/internal/logging"
	"personabench/internal/mode"
	"personabench/internal/persona"
)

const answerMaxTokens = 1024

// Evaluator poses questions to the model under a given persona.
type Evaluator struct {
	LLM            chat.Engine
	Log            *logging.Logger
	Temperature    float64
	EnableThinking bool
}

type EasyVerdict struct {
	Letter    string
	Reasoning string
	Thinking  string
	Correct   bool
}

// AnswerEasy asks a 4-option MCQ. Correctness is case-insensitive letter
// equality with the item's correct option.
func (ev *Evaluator) AnswerEasy(ctx context.Context, personaText string, it dataset.EasyItem, m mode.Mode) (EasyVerdict, error) {
	loc := persona.SurfaceLocale(m, it.Country)

	var b strings.Builder
	ev.thinkingPreamble(&b, m, loc)
	fmt.Fprintf(&b, "Answer the following question about %s by selecting exactly one of A, B, C or D.\n\n", it.Country)
	fmt.Fprintf(&b, "Question: %s\n", it.Question)
	for _, l := range []string{"A", "B", "C", "D"} {
		fmt.Fprintf(&b, "%s. %s\n", l, it.Options[l])
	}
	fmt.Fprintf(&b, "\nReply with JSON only, exactly {\"answer\": \"A|B|C|D\", \"reasoning\": \"...\"}. ")
	fmt.Fprintf(&b, "Write the reasoning in %s.", loc.Language)

	c, err := ev.LLM.Complete(ctx,
		[]chat.Message{chat.System(personaText), chat.User(b.String())},
		chat.Options{Temperature: ev.Temperature, MaxTokens: answerMaxTokens, EnableThinking: ev.EnableThinking})
	if err != nil {
		return EasyVerdict{}, err
	}

	letter, reasoning, err := extract.ParseEasyAnswer(c.Text, it.Options)
	if err != nil {
		return EasyVerdict{}, err
	}
	return EasyVerdict{
		Letter:    letter,
		Reasoning: reasoning,
		Thinking:  c.Thinking,
		Correct:   strings.EqualFold(letter, it.CorrectOption),
	}, nil
}

type HardVerdict struct {
	Answer    bool
	Reasoning string
	Thinking  string
	Correct   bool
}

// AnswerHardGroup asks the four true/false sub-items of one question
// under the same persona. All four are always evaluated so the store can
// hold complete rows; if any reply is unrecoverable the whole group is
// reported as failed and the caller discards it.
func (ev *Evaluator) AnswerHardGroup(ctx context.Context, personaText string, group [4]dataset.HardItem, m mode.Mode) ([4]HardVerdict, bool, error) {
	loc := persona.SurfaceLocale(m, group[0].Country)

	var verdicts [4]HardVerdict
	var firstErr error
	allCorrect := true
	for i, it := range group {
		v, err := ev.answerHardItem(ctx, personaText, it, m, loc)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("sub-item %d: %w", i, err)
			}
			allCorrect = false
			continue
		}
		verdicts[i] = v
		if !v.Correct {
			allCorrect = false
		}
	}
	if firstErr != nil {
		return verdicts, false, firstErr
	}
	return verdicts, allCorrect, nil
}

func (ev *Evaluator) answerHardItem(ctx context.Context, personaText string, it dataset.HardItem, m mode.Mode, loc persona.Locale) (HardVerdict, error) {
	var b strings.Builder
	ev.thinkingPreamble(&b, m, loc)
	fmt.Fprintf(&b, "Decide whether the statement below about %s is true or false.\n\n", it.Country)
	fmt.Fprintf(&b, "Question: %s\nStatement: %s\n", it.Question, it.PromptOption)
	fmt.Fprintf(&b, "\nReply with JSON only, exactly {\"correct\": true|false, \"reasoning\": \"...\"}. ")
	fmt.Fprintf(&b, "Write the reasoning in %s.", loc.Language)

	c, err := ev.LLM.Complete(ctx,
		[]chat.Message{chat.System(personaText), chat.User(b.String())},
		chat.Options{Temperature: ev.Temperature, MaxTokens: answerMaxTokens, EnableThinking: ev.EnableThinking})
	if err != nil {
		return HardVerdict{}, err
	}

	answer, reasoning, err := extract.ParseHardAnswer(c.Text)
	if err != nil {
		return HardVerdict{}, err
	}
	return HardVerdict{
		Answer:    answer,
		Reasoning: reasoning,
		Thinking:  c.Thinking,
		Correct:   answer == it.CorrectAnswer,
	}, nil
}

// thinkingPreamble asks thinking-capable models to keep the hidden chain
// of thought in the persona's language under native policies.
func (ev *Evaluator) thinkingPreamble(b *strings.Builder, m mode.Mode, loc persona.Locale) {
	if ev.EnableThinking && !m.SurfacesEnglish() {
		fmt.Fprintf(b, "Think through this entirely in %s before answering. ", loc.Language)
	}
}

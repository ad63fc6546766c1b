// Package persona generates and refines the per-question personas that
// frame the model as a culturally informed answerer.
package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"personabench/internal/chat"
	"personabench/internal/dataset"
	"personabench/internal/extract"
	"personabench/internal/logging"
	"personabench/internal/mode"
	"personabench/internal/translate"
)

// ErrUnsatisfiable means generation failed the language check on every
// attempt; the caller skips the item and writes nothing.
var ErrUnsatisfiable = errors.New("persona: language policy unsatisfiable")

const (
	maxLanguageAttempts = 3
	genMaxTokens        = 1024
)

// Translator is the slice of the translation gateway the engine needs.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) string
}

type Engine struct {
	LLM        chat.Engine
	Translator Translator
	Log        *logging.Logger
}

func NewEngine(llm chat.Engine, tr *translate.Gateway, log *logging.Logger) *Engine {
	return &Engine{LLM: llm, Translator: tr, Log: log}
}

// Result is a surfaced persona plus, when the policy translates, the
// source-language form it was translated from.
type Result struct {
	Persona       string
	Pretranslated string
}

// Initial generates the iteration-1 persona for a question.
func (e *Engine) Initial(ctx context.Context, question, country string, m mode.Mode) (Result, error) {
	gen := generationLocale(m, country)
	sys := InitialTemplate(m, gen)
	user := fmt.Sprintf("%s: %s\n%s: %s\n%s:",
		gen.QuestionKey, question, gen.CountryKey, country, gen.DescriptionKey)

	text, err := e.generateChecked(ctx, sys, user, m, func(raw string) (string, bool) {
		p := strings.TrimSpace(extract.StripCodeFences(raw))
		return p, p != ""
	})
	if err != nil {
		return Result{}, err
	}
	return e.bridge(ctx, text, m, country), nil
}

// Prior is the previous iteration's trajectory for one question, passed
// explicitly so refinement never has to look anything up.
type Prior struct {
	Persona     string
	ModelAnswer string
	Reasoning   string
}

type RefineInput struct {
	Difficulty dataset.Difficulty
	Question   string
	Country    string
	// Options and the model's previous choice are provided for Easy so
	// the refiner can reason about which expertise would have shifted it.
	Options map[string]string
	Prior   Prior
}

type RefineOutput struct {
	Reasoning     string
	Persona       string
	Pretranslated string
}

// Refine produces the next iteration's persona from the previous
// trajectory. An unparseable refinement reply is returned as
// extract.ErrUnparseable and the caller skips the question.
func (e *Engine) Refine(ctx context.Context, in RefineInput, m mode.Mode) (RefineOutput, error) {
	gen := generationLocale(m, in.Country)
	sys := RefineTemplate(m, gen)
	user := refineUserMessage(in)

	var reasoning string
	text, err := e.generateChecked(ctx, sys, user, m, func(raw string) (string, bool) {
		ref, perr := extract.ParseRefinement(raw, PronounPrefixes(gen))
		if perr != nil {
			return "", false
		}
		reasoning = ref.Reasoning
		return strings.TrimSpace(ref.RevisedPersona), ref.RevisedPersona != ""
	})
	if err != nil {
		return RefineOutput{}, err
	}
	res := e.bridge(ctx, text, m, in.Country)
	return RefineOutput{
		Reasoning:     reasoning,
		Persona:       res.Persona,
		Pretranslated: res.Pretranslated,
	}, nil
}

func refineUserMessage(in RefineInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\nCountry: %s\n", in.Question, in.Country)
	if in.Difficulty == dataset.Easy && len(in.Options) > 0 {
		b.WriteString("Options:\n")
		for _, l := range []string{"A", "B", "C", "D"} {
			if opt, ok := in.Options[l]; ok {
				fmt.Fprintf(&b, "%s. %s\n", l, opt)
			}
		}
		fmt.Fprintf(&b, "Model's choice: %s\n", in.Prior.ModelAnswer)
	} else {
		fmt.Fprintf(&b, "Model's answer: %s\n", in.Prior.ModelAnswer)
	}
	prior, _ := json.Marshal(map[string]string{
		"persona":   in.Prior.Persona,
		"reasoning": in.Prior.Reasoning,
	})
	fmt.Fprintf(&b, "Previous attempt: %s", string(prior))
	return b.String()
}

// generateChecked runs the bounded language-compliance loop. parse turns
// raw model output into a candidate persona; candidates failing the
// policy's language check are retried, never backfilled.
func (e *Engine) generateChecked(ctx context.Context, sys, user string, m mode.Mode,
	parse func(string) (string, bool)) (string, error) {

	for attempt := 1; attempt <= maxLanguageAttempts; attempt++ {
		c, err := e.LLM.Complete(ctx,
			[]chat.Message{chat.System(sys), chat.User(user)},
			chat.Options{Temperature: 0.0, MaxTokens: genMaxTokens})
		if err != nil {
			return "", err
		}
		candidate, ok := parse(c.Text)
		if !ok {
			e.Log.Warn("persona reply unparseable", "attempt", attempt)
			continue
		}
		if languageOK(candidate, m.GeneratesEnglish()) {
			return candidate, nil
		}
		e.Log.Warn("persona failed language check", "attempt", attempt, "policy", m.Policy)
	}
	return "", ErrUnsatisfiable
}

// bridge applies the policy's translation step. e2l surfaces the native
// form, l2e the English form; the source text is kept alongside.
func (e *Engine) bridge(ctx context.Context, text string, m mode.Mode, country string) Result {
	if !m.Translates() {
		return Result{Persona: text}
	}
	target := SurfaceLocale(m, country)
	translated := e.Translator.Translate(ctx, text, target.Code)
	return Result{Persona: translated, Pretranslated: text}
}

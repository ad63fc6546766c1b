// Package store persists trajectory rows and per-iteration accuracies.
// Writes are per-iteration atomic (delete-then-insert in one
// transaction) so re-running an iteration never duplicates rows.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var ErrNotFound = sql.ErrNoRows

// BestOfNIteration is the reserved iteration id for the post-hoc
// best-of-N accuracy; it must never collide with loop iterations.
const BestOfNIteration = -1

// Row is one trajectory record: one per (question, iteration) for Easy,
// one per (question, option, iteration) for Hard.
type Row struct {
	ID                   int64
	Iteration            int
	Mode                 string
	PromptVariant        string
	Difficulty           string
	Question             string
	OptionsJSON          string // Easy: {"A": ..., "D": ...}
	PromptOption         string // Hard
	Country              string
	CorrectAnswer        string
	Persona              string
	PretranslatedPersona string
	RefineReasoning      string
	Thinking             string
	ModelAnswer          string
	Reasoning            string
	CreatedAt            time.Time
}

// Accuracy is the per-iteration metadata record.
type Accuracy struct {
	Iteration  int
	Difficulty string
	Mode       string
	Correct    int
	Total      int
	Accuracy   float64
	RunID      string
	CreatedAt  time.Time
}

// Filter narrows Load. A nil Iteration means all iterations.
type Filter struct {
	Iteration *int
	Country   string
}

type Store interface {
	// WriteIteration atomically replaces all rows for
	// (iteration, difficulty, mode) with rows.
	WriteIteration(ctx context.Context, iteration int, difficulty, mode string, rows []Row) error
	// WriteAccuracy has the same replace semantics for metadata.
	WriteAccuracy(ctx context.Context, acc Accuracy) error
	// Load returns rows in insertion order.
	Load(ctx context.Context, f Filter) ([]Row, error)
	// Iterations returns sorted unique iteration ids among the rows for
	// (difficulty, mode). Scoping matters when several runs share one
	// database: another run's iterations must never count as this one's.
	Iterations(ctx context.Context, difficulty, mode string) ([]int, error)
	// Accuracies returns all metadata rows in iteration order.
	Accuracies(ctx context.Context) ([]Accuracy, error)
	Close() error
}

// Path builds the store file path:
// results/{p1|p2}/{policy}/{difficulty}_t{temperature}_{model}[_{custom}].db
func Path(root, variant, policy, difficulty string, temperature float64, model, custom string) string {
	name := fmt.Sprintf("%s_t%s_%s", difficulty, trimFloat(temperature), Slug(model))
	if custom != "" {
		name += "_" + Slug(custom)
	}
	return filepath.Join(root, variant, policy, name+".db")
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%g", f)
	return strings.ReplaceAll(s, "+", "")
}

// Slug makes a model id safe for file names.
func Slug(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer("/", "-", ":", "-", " ", "-", ".", "-")
	return strings.ToLower(repl.Replace(s))
}

// clock hands out strictly increasing timestamps within the process so
// created_at ordering matches insertion order even at coarse clock
// resolution.
type clock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := time.Now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

var processClock clock

package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the default single-writer file store.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Single writer by contract.
	db.SetMaxOpenConns(1)
	if err := createTables(db); err != nil {
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			iteration INTEGER NOT NULL,
			mode TEXT NOT NULL,
			prompt_variant TEXT NOT NULL,
			difficulty TEXT NOT NULL,
			question TEXT NOT NULL,
			options_json TEXT NOT NULL DEFAULT '',
			prompt_option TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL,
			correct_answer TEXT NOT NULL,
			persona TEXT NOT NULL,
			pretranslated_persona TEXT NOT NULL DEFAULT '',
			refine_reasoning TEXT NOT NULL DEFAULT '',
			thinking TEXT NOT NULL DEFAULT '',
			model_answer TEXT NOT NULL,
			reasoning TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			iteration INTEGER NOT NULL,
			difficulty TEXT NOT NULL,
			mode TEXT NOT NULL,
			correct_count INTEGER NOT NULL,
			total_count INTEGER NOT NULL,
			accuracy REAL NOT NULL,
			run_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (iteration, difficulty, mode)
		)
	`)
	return err
}

func (s *SQLite) WriteIteration(ctx context.Context, iteration int, difficulty, mode string, rows []Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM results WHERE iteration = ? AND difficulty = ? AND mode = ?`,
		iteration, difficulty, mode); err != nil {
		return err
	}
	const q = `
		INSERT INTO results (
			iteration, mode, prompt_variant, difficulty, question,
			options_json, prompt_option, country, correct_answer, persona,
			pretranslated_persona, refine_reasoning, thinking,
			model_answer, reasoning, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	for _, r := range rows {
		created := r.CreatedAt
		if created.IsZero() {
			created = processClock.now()
		}
		if _, err := tx.ExecContext(ctx, q,
			iteration, mode, r.PromptVariant, difficulty, r.Question,
			r.OptionsJSON, r.PromptOption, r.Country, r.CorrectAnswer, r.Persona,
			r.PretranslatedPersona, r.RefineReasoning, r.Thinking,
			r.ModelAnswer, r.Reasoning, created); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) WriteAccuracy(ctx context.Context, acc Accuracy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM metadata WHERE iteration = ? AND difficulty = ? AND mode = ?`,
		acc.Iteration, acc.Difficulty, acc.Mode); err != nil {
		return err
	}
	created := acc.CreatedAt
	if created.IsZero() {
		created = processClock.now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO metadata (iteration, difficulty, mode, correct_count, total_count, accuracy, run_id, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		acc.Iteration, acc.Difficulty, acc.Mode, acc.Correct, acc.Total, acc.Accuracy, acc.RunID, created); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Load(ctx context.Context, f Filter) ([]Row, error) {
	q := `
		SELECT id, iteration, mode, prompt_variant, difficulty, question,
		       options_json, prompt_option, country, correct_answer, persona,
		       pretranslated_persona, refine_reasoning, thinking,
		       model_answer, reasoning, created_at
		FROM results`
	var (
		conds []string
		args  []any
	)
	if f.Iteration != nil {
		conds = append(conds, "iteration = ?")
		args = append(args, *f.Iteration)
	}
	if f.Country != "" {
		conds = append(conds, "country = ?")
		args = append(args, f.Country)
	}
	for i, c := range conds {
		if i == 0 {
			q += " WHERE " + c
		} else {
			q += " AND " + c
		}
	}
	q += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Iteration, &r.Mode, &r.PromptVariant, &r.Difficulty,
			&r.Question, &r.OptionsJSON, &r.PromptOption, &r.Country, &r.CorrectAnswer,
			&r.Persona, &r.PretranslatedPersona, &r.RefineReasoning, &r.Thinking,
			&r.ModelAnswer, &r.Reasoning, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Iterations(ctx context.Context, difficulty, mode string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT iteration FROM results
		 WHERE iteration >= 1 AND difficulty = ? AND mode = ?
		 ORDER BY iteration`,
		difficulty, mode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var i int
		if err := rows.Scan(&i); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *SQLite) Accuracies(ctx context.Context) ([]Accuracy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT iteration, difficulty, mode, correct_count, total_count, accuracy, run_id, created_at
		FROM metadata ORDER BY iteration`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccuracies(rows)
}

func scanAccuracies(rows *sql.Rows) ([]Accuracy, error) {
	var out []Accuracy
	for rows.Next() {
		var a Accuracy
		if err := rows.Scan(&a.Iteration, &a.Difficulty, &a.Mode,
			&a.Correct, &a.Total, &a.Accuracy, &a.RunID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var _ Store = (*SQLite)(nil)

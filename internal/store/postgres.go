package store

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres is an alternative store backend for aggregating results from
// several machines into one shared database. Same semantics as SQLite;
// the single-writer contract then applies per (difficulty, mode, run).
type Postgres struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createTablesPG(db); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (s *Postgres) Close() error { return s.db.Close() }

func createTablesPG(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS results (
			id BIGSERIAL PRIMARY KEY,
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
			created_at TIMESTAMPTZ NOT NULL
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
			accuracy DOUBLE PRECISION NOT NULL,
			run_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (iteration, difficulty, mode)
		)
	`)
	return err
}

func (s *Postgres) WriteIteration(ctx context.Context, iteration int, difficulty, mode string, rows []Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM results WHERE iteration = $1 AND difficulty = $2 AND mode = $3`,
		iteration, difficulty, mode); err != nil {
		return err
	}
	const q = `
		INSERT INTO results (
			iteration, mode, prompt_variant, difficulty, question,
			options_json, prompt_option, country, correct_answer, persona,
			pretranslated_persona, refine_reasoning, thinking,
			model_answer, reasoning, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
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

func (s *Postgres) WriteAccuracy(ctx context.Context, acc Accuracy) error {
	created := acc.CreatedAt
	if created.IsZero() {
		created = processClock.now()
	}
	const q = `
		INSERT INTO metadata (iteration, difficulty, mode, correct_count, total_count, accuracy, run_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (iteration, difficulty, mode) DO UPDATE
		SET correct_count = excluded.correct_count,
		    total_count = excluded.total_count,
		    accuracy = excluded.accuracy,
		    run_id = excluded.run_id,
		    created_at = excluded.created_at`
	_, err := s.db.ExecContext(ctx, q,
		acc.Iteration, acc.Difficulty, acc.Mode, acc.Correct, acc.Total, acc.Accuracy, acc.RunID, created)
	return err
}

func (s *Postgres) Load(ctx context.Context, f Filter) ([]Row, error) {
	q := `
		SELECT id, iteration, mode, prompt_variant, difficulty, question,
		       options_json, prompt_option, country, correct_answer, persona,
		       pretranslated_persona, refine_reasoning, thinking,
		       model_answer, reasoning, created_at
		FROM results`
	var args []any
	switch {
	case f.Iteration != nil && f.Country != "":
		q += " WHERE iteration = $1 AND country = $2"
		args = append(args, *f.Iteration, f.Country)
	case f.Iteration != nil:
		q += " WHERE iteration = $1"
		args = append(args, *f.Iteration)
	case f.Country != "":
		q += " WHERE country = $1"
		args = append(args, f.Country)
	}
	q += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *Postgres) Iterations(ctx context.Context, difficulty, mode string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT iteration FROM results
		 WHERE iteration >= 1 AND difficulty = $1 AND mode = $2
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

func (s *Postgres) Accuracies(ctx context.Context) ([]Accuracy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT iteration, difficulty, mode, correct_count, total_count, accuracy, run_id, created_at
		FROM metadata ORDER BY iteration`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccuracies(rows)
}

var _ Store = (*Postgres)(nil)

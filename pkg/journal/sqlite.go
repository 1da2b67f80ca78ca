package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLite persists runs in a SQLite database.
type SQLite struct {
	db    *sql.DB
	owned bool
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	j, err := NewSQLite(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	j.owned = true
	return j, nil
}

// NewSQLite wraps db and ensures the schema.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Record(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, task, model, status, steps, answer, error_text, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			steps = excluded.steps,
			answer = excluded.answer,
			error_text = excluded.error_text,
			finished_at = excluded.finished_at
	`,
		run.ID,
		run.Task,
		run.Model,
		run.Status,
		run.Steps,
		run.Answer,
		run.Error,
		normalizeTime(run.StartedAt),
		normalizeTime(run.FinishedAt),
	)
	return err
}

func (s *SQLite) RecordStep(ctx context.Context, step Step) error {
	args, err := encodeArguments(step.Arguments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_steps (run_id, step_index, capability, arguments_json, is_error, result_text, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		step.RunID,
		step.Index,
		step.Capability,
		args,
		step.IsError,
		step.Result,
		normalizeTime(step.At),
	)
	return err
}

func (s *SQLite) List(ctx context.Context, filter Filter) ([]Run, error) {
	query := `
		SELECT id, task, model, status, steps, answer, error_text, started_at, finished_at
		FROM runs
	`
	var args []any
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY started_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			started  sql.NullTime
			finished sql.NullTime
		)
		if err := rows.Scan(
			&run.ID,
			&run.Task,
			&run.Model,
			&run.Status,
			&run.Steps,
			&run.Answer,
			&run.Error,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		if started.Valid {
			run.StartedAt = started.Time
		}
		if finished.Valid {
			run.FinishedAt = finished.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLite) Steps(ctx context.Context, runID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, step_index, capability, arguments_json, is_error, result_text, at
		FROM run_steps WHERE run_id = ? ORDER BY step_index ASC, rowid ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var (
			step    Step
			argsRaw string
			at      sql.NullTime
		)
		if err := rows.Scan(&step.RunID, &step.Index, &step.Capability, &argsRaw, &step.IsError, &step.Result, &at); err != nil {
			return nil, err
		}
		step.Arguments = decodeArguments(argsRaw)
		if at.Valid {
			step.At = at.Time
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// Close closes the database when it was opened by Open.
func (s *SQLite) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			model TEXT,
			status TEXT NOT NULL,
			steps INTEGER NOT NULL DEFAULT 0,
			answer TEXT,
			error_text TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
		CREATE TABLE IF NOT EXISTS run_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			capability TEXT NOT NULL,
			arguments_json TEXT,
			is_error BOOLEAN NOT NULL DEFAULT 0,
			result_text TEXT,
			at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_run_steps_run ON run_steps(run_id);
	`)
	return err
}

var (
	_ Journal = (*SQLite)(nil)
	_ Journal = (*Memory)(nil)
)

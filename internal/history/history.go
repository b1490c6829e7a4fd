// Package history keeps a record of completed transfer runs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openmined/syftxfer/internal/db"
	"github.com/openmined/syftxfer/internal/transfer"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    handler TEXT NOT NULL,
    direction TEXT NOT NULL,
    local_path TEXT NOT NULL,
    remote_path TEXT NOT NULL,
    started_at INTEGER NOT NULL, -- unix millis
    duration_ms INTEGER NOT NULL,
    succeeded INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    dependency_failed INTEGER NOT NULL DEFAULT 0,
    cancelled INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    bytes INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS run_failures (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    path TEXT NOT NULL,
    op TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_failures_run_id ON run_failures(run_id);
`

const (
	RunStatusOK        = "ok"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

var ErrRunNotFound = errors.New("run not found")

// Run is one row of the runs table
type Run struct {
	ID               string `db:"id" json:"id"`
	Handler          string `db:"handler" json:"handler"`
	Direction        string `db:"direction" json:"direction"`
	LocalPath        string `db:"local_path" json:"localPath"`
	RemotePath       string `db:"remote_path" json:"remotePath"`
	StartedAtMs      int64  `db:"started_at" json:"startedAtMs"`
	DurationMs       int64  `db:"duration_ms" json:"durationMs"`
	Succeeded        int    `db:"succeeded" json:"succeeded"`
	Failed           int    `db:"failed" json:"failed"`
	DependencyFailed int    `db:"dependency_failed" json:"dependencyFailed"`
	Cancelled        int    `db:"cancelled" json:"cancelled"`
	Skipped          int    `db:"skipped" json:"skipped"`
	Bytes            int64  `db:"bytes" json:"bytes"`
	Status           string `db:"status" json:"status"`
}

func (r *Run) StartedAt() time.Time {
	return time.UnixMilli(r.StartedAtMs)
}

func (r *Run) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// Failure is one failed, dependency-failed or cancelled path of a run
type Failure struct {
	RunID  string `db:"run_id" json:"-"`
	Path   string `db:"path" json:"path"`
	Op     string `db:"op" json:"op"`
	Status string `db:"status" json:"status"`
	Error  string `db:"error" json:"error"`
}

// RunFromResult summarizes a scheduler result into a history row and its failures.
func RunFromResult(handler string, dir transfer.Direction, localPath, remotePath string, res *transfer.Result) (*Run, []*Failure) {
	run := &Run{
		ID:               res.RunID,
		Handler:          handler,
		Direction:        dir.String(),
		LocalPath:        localPath,
		RemotePath:       remotePath,
		StartedAtMs:      res.StartedAt.UnixMilli(),
		DurationMs:       res.Duration.Milliseconds(),
		Succeeded:        res.Count(transfer.StatusSucceeded),
		Failed:           res.Count(transfer.StatusFailed),
		DependencyFailed: res.Count(transfer.StatusDependencyFailed),
		Cancelled:        res.Count(transfer.StatusCancelled),
		Skipped:          res.Count(transfer.StatusSkipped),
		Bytes:            res.Bytes(),
		Status:           RunStatusOK,
	}

	switch {
	case res.Failed():
		run.Status = RunStatusFailed
	case run.Cancelled > 0:
		run.Status = RunStatusCancelled
	}

	var failures []*Failure
	for _, o := range res.Outcomes {
		if o.Status != transfer.StatusFailed && o.Status != transfer.StatusDependencyFailed && o.Status != transfer.StatusCancelled {
			continue
		}
		f := &Failure{RunID: run.ID, Path: o.Path, Status: string(o.Status), Op: "plan"}
		if o.Op != nil {
			f.Op = string(o.Op.Kind)
		}
		if o.Err != nil {
			f.Error = o.Err.Error()
		}
		failures = append(failures, f)
	}
	return run, failures
}

// Store persists runs in sqlite
type Store struct {
	db *sqlx.DB
}

// New wraps an open database and creates the schema if needed
func New(conn *sqlx.DB) (*Store, error) {
	if err := db.Migrate(conn, schema); err != nil {
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return &Store{db: conn}, nil
}

// Open opens the history database at path
func Open(path string) (*Store, error) {
	conn, err := db.NewSqliteDB(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	store, err := New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		slog.Error("history close", "error", err)
		return err
	}
	return nil
}

// Record stores a run and its failures atomically
func (s *Store) Record(ctx context.Context, run *Run, failures []*Failure) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `INSERT INTO runs
		(id, handler, direction, local_path, remote_path, started_at, duration_ms,
		 succeeded, failed, dependency_failed, cancelled, skipped, bytes, status)
		VALUES
		(:id, :handler, :direction, :local_path, :remote_path, :started_at, :duration_ms,
		 :succeeded, :failed, :dependency_failed, :cancelled, :skipped, :bytes, :status)`, run)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	for _, f := range failures {
		f.RunID = run.ID
		_, err := tx.NamedExecContext(ctx, `INSERT INTO run_failures (run_id, path, op, status, error)
			VALUES (:run_id, :path, :op, :status, :error)`, f)
		if err != nil {
			return fmt.Errorf("insert failure %s: %w", f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	slog.Debug("history recorded", "run", run.ID, "handler", run.Handler, "status", run.Status, "failures", len(failures))
	return nil
}

// Recent returns up to limit runs, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 10
	}
	var runs []*Run
	err := s.db.SelectContext(ctx, &runs, `SELECT * FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return runs, nil
}

// Get returns a single run by id
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := s.db.GetContext(ctx, &run, `SELECT * FROM runs WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("query run %s: %w", id, err)
	}
	return &run, nil
}

func (s *Store) Failures(ctx context.Context, runID string) ([]*Failure, error) {
	var failures []*Failure
	err := s.db.SelectContext(ctx, &failures,
		`SELECT run_id, path, op, status, error FROM run_failures WHERE run_id = ? ORDER BY path`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failures for %s: %w", runID, err)
	}
	return failures, nil
}

// Prune deletes runs that started before the cutoff and returns how many were removed
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

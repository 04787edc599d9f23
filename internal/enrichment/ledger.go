// Package enrichment runs the catalog-enrichment workflow: a durable ledger
// of runs and step results plus a worker-pool engine that drives each poster
// through the pipeline exactly once per step.
package enrichment

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"bandaid/internal/entity"
	"bandaid/internal/identity"
)

// Run statuses in the ledger.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// workflowKind namespaces run identifiers so a second workflow over the same
// poster gets its own run row.
const workflowKind = "playlister"

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    poster_id TEXT NOT NULL,
    status TEXT NOT NULL,
    error_message TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE TABLE IF NOT EXISTS step_results (
    run_id TEXT NOT NULL,
    step_name TEXT NOT NULL,
    result_json TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (run_id, step_name)
)`

// Run is one workflow run row.
type Run struct {
	ID           string
	PosterID     identity.ID
	Status       string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Stats counts runs by status.
type Stats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Ledger is the engine's durable run database. It lives outside the entity
// arena so wiping a poster never loses unrelated run history.
type Ledger struct {
	db *sql.DB

	mu sync.Mutex
}

// RunID derives the ledger key for a poster's enrichment run.
func RunID(posterID identity.ID) string {
	return workflowKind + ":" + posterID.String()
}

// OpenLedger opens (or creates) the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ledger pragma: %w", err)
		}
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the ledger database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Enqueue records a pending run for the poster. Re-enqueueing an existing
// run is a no-op, which makes upload replays harmless.
func (l *Ledger) Enqueue(ctx context.Context, posterID identity.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := now()
	_, err := l.db.ExecContext(ctx, `
INSERT INTO runs (id, poster_id, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
		RunID(posterID), posterID.String(), RunPending, ts, ts)
	if err != nil {
		return fmt.Errorf("enqueue run: %w", err)
	}
	return nil
}

// NextPending claims the oldest pending run, transitioning it to running.
// Returns (nil, false, nil) when nothing is pending.
func (l *Ledger) NextPending(ctx context.Context) (*Run, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("claim run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	run := &Run{}
	var errMsg sql.NullString
	var createdAt, updatedAt, posterID string
	err = tx.QueryRowContext(ctx, `
SELECT id, poster_id, status, error_message, created_at, updated_at
FROM runs WHERE status = ? ORDER BY created_at, id LIMIT 1`, RunPending).
		Scan(&run.ID, &posterID, &run.Status, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim run: %w", err)
	}
	run.PosterID = identity.ID(posterID)
	run.ErrorMessage = errMsg.String
	if t, err := entity.ParseTimeString(createdAt); err == nil {
		run.CreatedAt = t
	}
	if t, err := entity.ParseTimeString(updatedAt); err == nil {
		run.UpdatedAt = t
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		RunRunning, now(), run.ID); err != nil {
		return nil, false, fmt.Errorf("claim run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("claim run: %w", err)
	}
	run.Status = RunRunning
	return run, true, nil
}

// ResetInFlight returns runs stuck in running back to pending. Called once
// at engine start so a crashed daemon resumes its in-flight work.
func (l *Ledger) ResetInFlight(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE status = ?`,
		RunPending, now(), RunRunning)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight runs: %w", err)
	}
	count, _ := res.RowsAffected()
	return int(count), nil
}

// MarkCompleted finalizes a run as successful.
func (l *Ledger) MarkCompleted(ctx context.Context, runID string) error {
	return l.finalize(ctx, runID, RunCompleted, "")
}

// MarkFailed finalizes a run as permanently failed with a reason.
func (l *Ledger) MarkFailed(ctx context.Context, runID, reason string) error {
	return l.finalize(ctx, runID, RunFailed, reason)
}

func (l *Ledger) finalize(ctx context.Context, runID, status, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status, entity.NullableString(reason), now(), runID)
	if err != nil {
		return fmt.Errorf("finalize run %s: %w", runID, err)
	}
	return nil
}

// GetRun returns a run row by id.
func (l *Ledger) GetRun(ctx context.Context, runID string) (*Run, bool, error) {
	run := &Run{}
	var errMsg sql.NullString
	var createdAt, updatedAt, posterID string
	err := l.db.QueryRowContext(ctx, `
SELECT id, poster_id, status, error_message, created_at, updated_at
FROM runs WHERE id = ?`, runID).
		Scan(&run.ID, &posterID, &run.Status, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get run %s: %w", runID, err)
	}
	run.PosterID = identity.ID(posterID)
	run.ErrorMessage = errMsg.String
	if t, err := entity.ParseTimeString(createdAt); err == nil {
		run.CreatedAt = t
	}
	if t, err := entity.ParseTimeString(updatedAt); err == nil {
		run.UpdatedAt = t
	}
	return run, true, nil
}

// StepResult returns the recorded result payload for a step, if any.
func (l *Ledger) StepResult(ctx context.Context, runID, stepName string) (string, bool, error) {
	var payload string
	err := l.db.QueryRowContext(ctx,
		`SELECT result_json FROM step_results WHERE run_id = ? AND step_name = ?`,
		runID, stepName).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read step result %s/%s: %w", runID, stepName, err)
	}
	return payload, true, nil
}

// RecordStep writes a step result at most once. A replayed write keeps the
// first recorded payload.
func (l *Ledger) RecordStep(ctx context.Context, runID, stepName, resultJSON string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx, `
INSERT INTO step_results (run_id, step_name, result_json, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(run_id, step_name) DO NOTHING`,
		runID, stepName, resultJSON, now())
	if err != nil {
		return fmt.Errorf("record step %s/%s: %w", runID, stepName, err)
	}
	return nil
}

// Stats returns run counts by status.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		switch status {
		case RunPending:
			stats.Pending = count
		case RunRunning:
			stats.Running = count
		case RunCompleted:
			stats.Completed = count
		case RunFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

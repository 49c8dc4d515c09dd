package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timeNow is stubbed in tests to exercise retention cutoffs.
var timeNow = time.Now

// Store persists jobs in SQLite. Transitions are guarded by the status
// column in the UPDATE itself, so concurrent writers cannot produce an
// illegal state.
type Store struct {
	db *sql.DB
}

// NewStore creates the store and runs migrations.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate async_jobs: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS async_jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		input TEXT,
		result TEXT,
		error TEXT,
		progress_percent INTEGER NOT NULL DEFAULT 0,
		progress_message TEXT,
		cancel_requested INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON async_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON async_jobs(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a pending job.
func (s *Store) Create(ctx context.Context, jobType, input string) (*Job, error) {
	if jobType == "" {
		return nil, errors.New("job type is required")
	}
	job := &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    StatusPending,
		Input:     input,
		CreatedAt: timeNow().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO async_jobs (id, type, status, input, created_at) VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.Type, job.Status, job.Input, job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// Get fetches a job snapshot.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, status, input, result, error,
		progress_percent, progress_message, cancel_requested,
		created_at, started_at, completed_at
		FROM async_jobs WHERE id = ?`, id)
	return scanJob(row)
}

// List returns jobs newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status Status, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, type, status, input, result, error,
		progress_percent, progress_message, cancel_requested,
		created_at, started_at, completed_at
		FROM async_jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	list := make([]Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *job)
	}
	return list, rows.Err()
}

// PendingIDs returns the ids of all pending jobs, oldest first. Used at
// startup to requeue rows that survived a restart.
func (s *Store) PendingIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM async_jobs WHERE status = ? ORDER BY created_at ASC`, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FailInterrupted marks every running job failed with the given cause.
// A running row with no live worker means the previous process died
// mid-job; called once at startup before workers launch.
func (s *Store) FailInterrupted(ctx context.Context, cause string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE async_jobs SET status = ?, error = ?, completed_at = ? WHERE status = ?`,
		StatusFailed, cause, timeNow().UTC(), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to fail interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Start transitions pending to running.
func (s *Store) Start(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE async_jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		StatusRunning, timeNow().UTC(), id, StatusPending)
	return transitionResult(ctx, s, id, res, err)
}

// UpdateProgress records progress. Ignored once the job is terminal or
// cancellation has been requested; regressions are ignored to keep the
// observed percent monotonic.
func (s *Store) UpdateProgress(ctx context.Context, id string, percent int, message string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE async_jobs SET progress_percent = ?, progress_message = ?
		WHERE id = ? AND status = ? AND cancel_requested = 0 AND progress_percent <= ?`,
		percent, message, id, StatusRunning, percent)
	return err
}

// Complete transitions running to completed with the result payload.
func (s *Store) Complete(ctx context.Context, id, result string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE async_jobs SET status = ?, result = ?, progress_percent = 100, completed_at = ?
		WHERE id = ? AND status = ?`,
		StatusCompleted, result, timeNow().UTC(), id, StatusRunning)
	return transitionResult(ctx, s, id, res, err)
}

// Fail transitions pending or running to failed with a human-readable
// cause.
func (s *Store) Fail(ctx context.Context, id, cause string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE async_jobs SET status = ?, error = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		StatusFailed, cause, timeNow().UTC(), id, StatusPending, StatusRunning)
	return transitionResult(ctx, s, id, res, err)
}

// Cancel requests cooperative cancellation. A pending job is cancelled
// immediately since no worker holds it; a running job only gets the
// flag and the worker performs the transition. Returns false without
// error when the job is already terminal.
func (s *Store) Cancel(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE async_jobs SET cancel_requested = 1,
			status = CASE WHEN status = ? THEN ? ELSE status END,
			completed_at = CASE WHEN status = ? THEN ? ELSE completed_at END
		WHERE id = ? AND status IN (?, ?)`,
		StatusPending, StatusCancelled, StatusPending, timeNow().UTC(),
		id, StatusPending, StatusRunning)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Distinguish a terminal job from a missing one.
		if _, err := s.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// MarkCancelled transitions a running job to cancelled. Called by the
// worker after it observes the cancellation flag.
func (s *Store) MarkCancelled(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE async_jobs SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		StatusCancelled, timeNow().UTC(), id, StatusRunning)
	return transitionResult(ctx, s, id, res, err)
}

// IsCancelled reports the cancellation flag. Polled cooperatively by
// handlers between steps.
func (s *Store) IsCancelled(ctx context.Context, id string) (bool, error) {
	var flag bool
	err := s.db.QueryRowContext(ctx,
		`SELECT cancel_requested FROM async_jobs WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	return flag, err
}

// Delete removes a terminal job row.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM async_jobs WHERE id = ? AND status IN (?, ?, ?)`,
		id, StatusCompleted, StatusFailed, StatusCancelled)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrNotTerminal
	}
	return nil
}

// Cleanup deletes terminal jobs older than the cutoff age. Pending and
// running jobs are never deleted regardless of age.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := timeNow().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM async_jobs WHERE status IN (?, ?, ?) AND created_at < ?`,
		StatusCompleted, StatusFailed, StatusCancelled, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// transitionResult turns a guarded UPDATE outcome into ErrNotFound or
// ErrInvalidTransition when no row matched.
func transitionResult(ctx context.Context, s *Store, id string, res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		job, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var input, result, errMsg, progressMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&job.ID, &job.Type, &job.Status, &input, &result, &errMsg,
		&job.ProgressPercent, &progressMsg, &job.CancelRequested,
		&job.CreatedAt, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.Input = input.String
	job.Result = result.String
	job.Error = errMsg.String
	job.ProgressMessage = progressMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

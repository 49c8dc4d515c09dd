// Package jobs implements the async job lifecycle: a SQLite-backed
// state machine, a worker pool that executes registered handlers, a
// retention sweeper and NATS lifecycle events.
//
// Cancellation is cooperative only. Cancel sets a flag; handlers must
// poll Cancelled between coarse-grained steps and return early.
package jobs

import (
	"errors"
	"time"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

var (
	// ErrNotFound indicates the job id does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition indicates the requested transition is not
	// allowed from the job's current state.
	ErrInvalidTransition = errors.New("invalid job transition")

	// ErrNotTerminal indicates a delete was attempted on a pending or
	// running job.
	ErrNotTerminal = errors.New("job is not in a terminal state")

	// ErrCancelled is returned by handlers that observed the
	// cancellation flag and stopped early.
	ErrCancelled = errors.New("job cancelled")

	// ErrUnknownType indicates no handler is registered for a job type.
	ErrUnknownType = errors.New("unknown job type")
)

// Job is a point-in-time snapshot of an async job row. Each transition
// writes a coherent snapshot, so concurrent readers may see a slightly
// stale but never partially-written job.
type Job struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status Status `json:"status"`

	// Input is the submission payload, JSON-encoded by the caller.
	Input string `json:"input,omitempty"`

	// Result is populated only on completion.
	Result string `json:"result,omitempty"`

	// Error is populated only on failure.
	Error string `json:"error,omitempty"`

	ProgressPercent int    `json:"progress_percent"`
	ProgressMessage string `json:"progress_message,omitempty"`

	CancelRequested bool `json:"cancel_requested"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

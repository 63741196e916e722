package domain

import (
	"context"
	"time"
)

// JobRepository persists job records so that queued/processing/paused work
// survives a process restart. The in-memory registry stays authoritative at
// runtime; the repository is written through after every item and on every
// status change.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	// SaveProgress persists the job's mutable fields: status, cursor,
	// progress, results, timestamps, and the top-level error.
	SaveProgress(ctx context.Context, job *Job) error
	// ListResumable returns all jobs in a non-terminal status.
	ListResumable(ctx context.Context) ([]*Job, error)
	// DeleteTerminalBefore removes terminal jobs older than the cutoff and
	// returns how many rows were dropped.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

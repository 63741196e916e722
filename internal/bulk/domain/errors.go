package domain

import "errors"

var (
	// ErrNotFound indicates that no job exists for the given id.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidJobType indicates an unsupported job type.
	ErrInvalidJobType = errors.New("invalid job type")
	// ErrEmptyBatch indicates a job was submitted with no items.
	ErrEmptyBatch = errors.New("batch is empty")
	// ErrBatchTooLarge indicates the batch exceeds the configured maximum.
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
	// ErrInvalidTransition indicates a control signal not permitted in the
	// job's current state.
	ErrInvalidTransition = errors.New("transition not permitted in current state")
	// ErrNothingToRetry indicates a retry on a job with no failed items or
	// a job that is not terminal yet.
	ErrNothingToRetry = errors.New("job has no failed items to retry")
)

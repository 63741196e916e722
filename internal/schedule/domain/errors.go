package domain

import "errors"

var (
	// ErrNotFound indicates no armed schedule exists for the given id.
	ErrNotFound = errors.New("schedule not found")
	// ErrInvalidSchedule indicates a fire time that is not in the future.
	ErrInvalidSchedule = errors.New("schedule time must be in the future")
)

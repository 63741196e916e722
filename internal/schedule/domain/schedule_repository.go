package domain

import (
	"context"

	"github.com/google/uuid"
)

// ScheduleRepository persists armed schedules so they survive a restart.
// Rows are deleted when a schedule fires or is cancelled; the table only
// ever contains pending schedules.
type ScheduleRepository interface {
	Create(ctx context.Context, msg *ScheduledMessage) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListPending(ctx context.Context) ([]*ScheduledMessage, error)
}

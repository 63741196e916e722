package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScheduledMessage is a single message armed to fire once at a future
// instant. It exists until it fires or is cancelled; no sent/failed record
// is retained afterwards.
type ScheduledMessage struct {
	ID       uuid.UUID `json:"id"`
	DeviceID string    `json:"device_id"`
	Target   string    `json:"target"`
	Message  string    `json:"message"`
	FireAt   time.Time `json:"fire_at"`
	// Timezone is informational only; firing is wall-clock based.
	Timezone  string    `json:"timezone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewScheduledMessage builds a schedule record. FireAt must be validated by
// the caller before arming a timer.
func NewScheduledMessage(deviceID, target, message string, fireAt time.Time, timezone string) *ScheduledMessage {
	return &ScheduledMessage{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		Target:    target,
		Message:   message,
		FireAt:    fireAt,
		Timezone:  timezone,
		CreatedAt: time.Now().UTC(),
	}
}

// Clone returns a copy safe to hand outside the registry.
func (m *ScheduledMessage) Clone() *ScheduledMessage {
	cp := *m
	return &cp
}

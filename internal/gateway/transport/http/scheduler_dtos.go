package http

import (
	"time"

	scheduledomain "github.com/waservices/gateway/internal/schedule/domain"
)

// --- Request DTOs ---

// CreateScheduledMessageRequestDTO is used for arming a one-shot schedule.
// FireAt must be strictly in the future; Timezone is informational only.
type CreateScheduledMessageRequestDTO struct {
	DeviceID string    `json:"device_id" validate:"required"`
	Target   string    `json:"target" validate:"required"`
	Message  string    `json:"message" validate:"required"`
	FireAt   time.Time `json:"fire_at" validate:"required"`
	Timezone string    `json:"timezone,omitempty"`
}

// --- Response DTOs ---

// CreateScheduledMessageResponseDTO acknowledges a newly armed schedule.
type CreateScheduledMessageResponseDTO struct {
	ScheduleID   string    `json:"schedule_id"`
	FireAt       time.Time `json:"fire_at"`
	DelaySeconds int       `json:"delay_seconds"`
}

// ScheduledMessageDTO represents a still-armed schedule.
type ScheduledMessageDTO struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Target    string    `json:"target"`
	Message   string    `json:"message"`
	FireAt    time.Time `json:"fire_at"`
	Timezone  string    `json:"timezone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListScheduledMessagesResponseDTO is the response for listing schedules.
type ListScheduledMessagesResponseDTO struct {
	Messages   []ScheduledMessageDTO `json:"messages"`
	TotalCount int                   `json:"total_count"`
}

func toScheduledMessageDTO(msg *scheduledomain.ScheduledMessage) ScheduledMessageDTO {
	return ScheduledMessageDTO{
		ID:        msg.ID.String(),
		DeviceID:  msg.DeviceID,
		Target:    msg.Target,
		Message:   msg.Message,
		FireAt:    msg.FireAt,
		Timezone:  msg.Timezone,
		CreatedAt: msg.CreatedAt,
	}
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	scheduledomain "github.com/waservices/gateway/internal/schedule/domain"
)

// ScheduleService is the application-layer surface the handler needs.
type ScheduleService interface {
	Schedule(ctx context.Context, deviceID, target, message string, fireAt time.Time, timezone string) (*scheduledomain.ScheduledMessage, error)
	Cancel(ctx context.Context, id uuid.UUID) bool
	List(deviceID string) []*scheduledomain.ScheduledMessage
}

type SchedulerHandler struct {
	scheduleService ScheduleService
	logger          *slog.Logger
	validate        *validator.Validate
}

func NewSchedulerHandler(scheduleService ScheduleService, logger *slog.Logger, validate *validator.Validate) *SchedulerHandler {
	return &SchedulerHandler{
		scheduleService: scheduleService,
		logger:          logger,
		validate:        validate,
	}
}

// RegisterRoutes registers scheduled-message routes to a Chi router.
func (h *SchedulerHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.CreateScheduledMessage)
	r.Get("/", h.ListScheduledMessages)
	r.Delete("/{scheduleID}", h.CancelScheduledMessage)
}

func (h *SchedulerHandler) CreateScheduledMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var reqDTO CreateScheduledMessageRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode request body for CreateScheduledMessage", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Validation failed for CreateScheduledMessage", "error", err)
		http.Error(w, fmt.Sprintf("Validation failed: %s", err.Error()), http.StatusBadRequest)
		return
	}

	msg, err := h.scheduleService.Schedule(ctx, reqDTO.DeviceID, reqDTO.Target, reqDTO.Message, reqDTO.FireAt, reqDTO.Timezone)
	if err != nil {
		if errors.Is(err, scheduledomain.ErrInvalidSchedule) {
			h.logger.WarnContext(ctx, "Rejected non-future schedule", "fire_at", reqDTO.FireAt)
			http.Error(w, fmt.Sprintf("Invalid schedule: %s", err.Error()), http.StatusBadRequest)
			return
		}
		h.logger.ErrorContext(ctx, "Failed to create schedule", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusCreated, CreateScheduledMessageResponseDTO{
		ScheduleID:   msg.ID.String(),
		FireAt:       msg.FireAt,
		DelaySeconds: int(time.Until(msg.FireAt) / time.Second),
	})
}

func (h *SchedulerHandler) ListScheduledMessages(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	msgs := h.scheduleService.List(deviceID)
	out := make([]ScheduledMessageDTO, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toScheduledMessageDTO(msg))
	}
	respondWithJSON(w, http.StatusOK, ListScheduledMessagesResponseDTO{Messages: out, TotalCount: len(out)})
}

func (h *SchedulerHandler) CancelScheduledMessage(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "scheduleID")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Invalid schedule id", "schedule_id", idStr)
		http.Error(w, "Invalid schedule id", http.StatusBadRequest)
		return
	}

	if !h.scheduleService.Cancel(r.Context(), id) {
		http.Error(w, "Schedule not found or already fired", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

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

	bulkdomain "github.com/waservices/gateway/internal/bulk/domain"
)

// BulkJobService is the application-layer surface the handler needs.
type BulkJobService interface {
	CreateJob(ctx context.Context, deviceID string, jobType bulkdomain.JobType, items []bulkdomain.JobItem, options bulkdomain.JobOptions) (*bulkdomain.Job, error)
	GetJob(id uuid.UUID) (*bulkdomain.Job, error)
	ListJobs() []*bulkdomain.Job
	CancelJob(ctx context.Context, id uuid.UUID) (*bulkdomain.Job, error)
	PauseJob(ctx context.Context, id uuid.UUID) (*bulkdomain.Job, error)
	ResumeJob(ctx context.Context, id uuid.UUID) (*bulkdomain.Job, error)
	RetryJob(ctx context.Context, id uuid.UUID) (*bulkdomain.Job, error)
}

type BulkJobHandler struct {
	jobService   BulkJobService
	logger       *slog.Logger
	validate     *validator.Validate
	defaultDelay time.Duration
}

func NewBulkJobHandler(jobService BulkJobService, logger *slog.Logger, validate *validator.Validate, defaultDelay time.Duration) *BulkJobHandler {
	return &BulkJobHandler{
		jobService:   jobService,
		logger:       logger,
		validate:     validate,
		defaultDelay: defaultDelay,
	}
}

// RegisterRoutes registers bulk job routes to a Chi router.
func (h *BulkJobHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.CreateBulkJob)
	r.Get("/", h.ListBulkJobs)
	r.Get("/{jobID}", h.GetBulkJob)
	r.Post("/{jobID}/cancel", h.control("cancel"))
	r.Post("/{jobID}/pause", h.control("pause"))
	r.Post("/{jobID}/resume", h.control("resume"))
	r.Post("/{jobID}/retry", h.RetryBulkJob)
}

func (h *BulkJobHandler) CreateBulkJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var reqDTO CreateBulkJobRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode request body for CreateBulkJob", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Validation failed for CreateBulkJob", "error", err)
		http.Error(w, fmt.Sprintf("Validation failed: %s", err.Error()), http.StatusBadRequest)
		return
	}

	items := make([]bulkdomain.JobItem, 0, len(reqDTO.Items))
	for _, it := range reqDTO.Items {
		items = append(items, bulkdomain.JobItem{
			Target:   it.Target,
			Message:  it.Message,
			MediaURL: it.MediaURL,
			Caption:  it.Caption,
		})
	}

	options := bulkdomain.JobOptions{Delay: h.defaultDelay, AutoStart: true}
	if reqDTO.Options.DelaySeconds != nil {
		options.Delay = time.Duration(*reqDTO.Options.DelaySeconds) * time.Second
	}
	if reqDTO.Options.AutoStart != nil {
		options.AutoStart = *reqDTO.Options.AutoStart
	}

	job, err := h.jobService.CreateJob(ctx, reqDTO.DeviceID, bulkdomain.JobType(reqDTO.Type), items, options)
	if err != nil {
		h.respondJobError(w, r, err, "CreateBulkJob", "")
		return
	}

	respondWithJSON(w, http.StatusCreated, CreateBulkJobResponseDTO{
		JobID:  job.ID.String(),
		Status: string(job.Status),
		Total:  job.Progress.Total,
	})
}

func (h *BulkJobHandler) GetBulkJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseJobID(w, r)
	if !ok {
		return
	}
	job, err := h.jobService.GetJob(id)
	if err != nil {
		h.respondJobError(w, r, err, "GetBulkJob", id.String())
		return
	}
	respondWithJSON(w, http.StatusOK, toBulkJobDTO(job))
}

func (h *BulkJobHandler) ListBulkJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobService.ListJobs()
	out := make([]BulkJobDTO, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toBulkJobDTO(job))
	}
	respondWithJSON(w, http.StatusOK, ListBulkJobsResponseDTO{Jobs: out, TotalCount: len(out)})
}

// control builds the handler for the cancel/pause/resume verbs, which share
// their request/response shape and differ only in the service call.
func (h *BulkJobHandler) control(verb string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.parseJobID(w, r)
		if !ok {
			return
		}

		var job *bulkdomain.Job
		var err error
		switch verb {
		case "cancel":
			job, err = h.jobService.CancelJob(r.Context(), id)
		case "pause":
			job, err = h.jobService.PauseJob(r.Context(), id)
		case "resume":
			job, err = h.jobService.ResumeJob(r.Context(), id)
		}
		if err != nil {
			h.respondJobError(w, r, err, verb, id.String())
			return
		}
		respondWithJSON(w, http.StatusOK, toBulkJobDTO(job))
	}
}

func (h *BulkJobHandler) RetryBulkJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseJobID(w, r)
	if !ok {
		return
	}
	retry, err := h.jobService.RetryJob(r.Context(), id)
	if err != nil {
		h.respondJobError(w, r, err, "RetryBulkJob", id.String())
		return
	}
	respondWithJSON(w, http.StatusCreated, CreateBulkJobResponseDTO{
		JobID:  retry.ID.String(),
		Status: string(retry.Status),
		Total:  retry.Progress.Total,
	})
}

func (h *BulkJobHandler) parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "jobID")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Invalid job id", "job_id", idStr)
		http.Error(w, "Invalid job id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// respondJobError maps domain errors to HTTP status codes.
func (h *BulkJobHandler) respondJobError(w http.ResponseWriter, r *http.Request, err error, operation, jobID string) {
	ctx := r.Context()
	switch {
	case errors.Is(err, bulkdomain.ErrNotFound):
		h.logger.WarnContext(ctx, "Job not found", "operation", operation, "job_id", jobID)
		http.Error(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, bulkdomain.ErrInvalidTransition), errors.Is(err, bulkdomain.ErrNothingToRetry):
		h.logger.WarnContext(ctx, "Control action not permitted in current state", "operation", operation, "job_id", jobID, "error", err)
		http.Error(w, fmt.Sprintf("Not permitted in current state: %s", err.Error()), http.StatusConflict)
	case errors.Is(err, bulkdomain.ErrEmptyBatch), errors.Is(err, bulkdomain.ErrBatchTooLarge), errors.Is(err, bulkdomain.ErrInvalidJobType):
		h.logger.WarnContext(ctx, "Invalid bulk job request", "operation", operation, "error", err)
		http.Error(w, fmt.Sprintf("Invalid request: %s", err.Error()), http.StatusBadRequest)
	default:
		h.logger.ErrorContext(ctx, "Bulk job operation failed", "operation", operation, "job_id", jobID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

package http

import (
	"time"

	bulkdomain "github.com/waservices/gateway/internal/bulk/domain"
)

// --- Request DTOs ---

// BulkJobItemDTO is one recipient + payload pair in a create request.
type BulkJobItemDTO struct {
	Target   string `json:"target" validate:"required"`
	Message  string `json:"message,omitempty"`
	MediaURL string `json:"media_url,omitempty" validate:"omitempty,url"`
	Caption  string `json:"caption,omitempty"`
}

// BulkJobOptionsDTO carries the per-job options. Omitted fields fall back
// to the gateway defaults (delay from config, auto_start true).
type BulkJobOptionsDTO struct {
	DelaySeconds *int  `json:"delay_seconds,omitempty" validate:"omitempty,min=0"`
	AutoStart    *bool `json:"auto_start,omitempty"`
}

// CreateBulkJobRequestDTO is used for submitting a new bulk-send job.
type CreateBulkJobRequestDTO struct {
	DeviceID string            `json:"device_id" validate:"required"`
	Type     string            `json:"type" validate:"required,oneof=send-text send-media"`
	Items    []BulkJobItemDTO  `json:"items" validate:"required,min=1,dive"`
	Options  BulkJobOptionsDTO `json:"options"`
}

// --- Response DTOs ---

// CreateBulkJobResponseDTO acknowledges a newly created job.
type CreateBulkJobResponseDTO struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// BulkJobProgressDTO mirrors the per-job counters.
type BulkJobProgressDTO struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// BulkJobResultDTO is the recorded outcome of one processed item.
type BulkJobResultDTO struct {
	Target  string `json:"target"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// BulkJobDTO is the full job status representation.
type BulkJobDTO struct {
	ID          string             `json:"id"`
	DeviceID    string             `json:"device_id"`
	Type        string             `json:"type"`
	Status      string             `json:"status"`
	Progress    BulkJobProgressDTO `json:"progress"`
	Results     []BulkJobResultDTO `json:"results"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// ListBulkJobsResponseDTO is the response for listing jobs.
type ListBulkJobsResponseDTO struct {
	Jobs       []BulkJobDTO `json:"jobs"`
	TotalCount int          `json:"total_count"`
}

func toBulkJobDTO(job *bulkdomain.Job) BulkJobDTO {
	results := make([]BulkJobResultDTO, 0, len(job.Results))
	for _, r := range job.Results {
		results = append(results, BulkJobResultDTO{
			Target:  r.Target,
			Outcome: string(r.Outcome),
			Detail:  r.Detail,
		})
	}
	return BulkJobDTO{
		ID:       job.ID.String(),
		DeviceID: job.DeviceID,
		Type:     string(job.Type),
		Status:   string(job.Status),
		Progress: BulkJobProgressDTO{
			Total:     job.Progress.Total,
			Completed: job.Progress.Completed,
			Failed:    job.Progress.Failed,
		},
		Results:     results,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}

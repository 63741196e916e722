package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobType selects which send variant the executor invokes per item.
type JobType string

const (
	JobTypeSendText  JobType = "send-text"
	JobTypeSendMedia JobType = "send-media"
)

// JobStatus represents the lifecycle state of a bulk job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusPaused     JobStatus = "paused"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further automatic transition occurs.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// validTransitions encodes the job state machine:
// queued -> processing -> {completed, failed, cancelled}, with
// processing <-> paused as a reversible side branch and
// queued/processing/paused -> cancelled as a one-way exit.
var validTransitions = map[JobStatus][]JobStatus{
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:     {StatusProcessing, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ItemOutcome records how a single send attempt ended.
type ItemOutcome string

const (
	OutcomeSuccess ItemOutcome = "success"
	OutcomeError   ItemOutcome = "error"
)

// JobItem is one recipient + payload pair within a job.
type JobItem struct {
	Target   string `json:"target"`
	Message  string `json:"message,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// ItemResult is the recorded outcome of one processed item. Results are
// append-only and ordered: Results[i] corresponds to Items[i].
type ItemResult struct {
	Target  string      `json:"target"`
	Outcome ItemOutcome `json:"outcome"`
	Detail  string      `json:"detail,omitempty"`
}

// Progress holds the derived per-job counters.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// JobOptions are fixed at creation.
type JobOptions struct {
	Delay     time.Duration `json:"delay"`
	AutoStart bool          `json:"auto_start"`
}

// Job is the record of one bulk-send request and its lifecycle state.
// Items is fixed at creation and never mutated; Cursor is the index of the
// next unprocessed item and only ever increases.
type Job struct {
	ID          uuid.UUID    `json:"id"`
	DeviceID    string       `json:"device_id"`
	Type        JobType      `json:"type"`
	Status      JobStatus    `json:"status"`
	Items       []JobItem    `json:"items"`
	Cursor      int          `json:"cursor"`
	Progress    Progress     `json:"progress"`
	Results     []ItemResult `json:"results"`
	Options     JobOptions   `json:"options"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// NewJob builds a queued job. Validation of batch size limits happens at the
// application boundary; the domain only requires a non-empty batch.
func NewJob(deviceID string, jobType JobType, items []JobItem, options JobOptions) (*Job, error) {
	if jobType != JobTypeSendText && jobType != JobTypeSendMedia {
		return nil, ErrInvalidJobType
	}
	if len(items) == 0 {
		return nil, ErrEmptyBatch
	}
	return &Job{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		Type:      jobType,
		Status:    StatusQueued,
		Items:     append([]JobItem(nil), items...),
		Progress:  Progress{Total: len(items)},
		Results:   make([]ItemResult, 0, len(items)),
		Options:   options,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Transition moves the job to the given status, enforcing the state machine.
func (j *Job) Transition(to JobStatus) error {
	if !CanTransition(j.Status, to) {
		return ErrInvalidTransition
	}
	j.Status = to
	return nil
}

// MarkProcessing transitions to processing and stamps StartedAt exactly once.
func (j *Job) MarkProcessing() error {
	if err := j.Transition(StatusProcessing); err != nil {
		return err
	}
	if j.StartedAt == nil {
		now := time.Now().UTC()
		j.StartedAt = &now
	}
	return nil
}

// RecordSuccess appends a success result for the item at the cursor and
// advances it.
func (j *Job) RecordSuccess(detail string) {
	j.Results = append(j.Results, ItemResult{
		Target:  j.Items[j.Cursor].Target,
		Outcome: OutcomeSuccess,
		Detail:  detail,
	})
	j.Progress.Completed++
	j.Cursor++
}

// RecordFailure appends an error result for the item at the cursor and
// advances it. Per-item failures never abort the batch.
func (j *Job) RecordFailure(detail string) {
	j.Results = append(j.Results, ItemResult{
		Target:  j.Items[j.Cursor].Target,
		Outcome: OutcomeError,
		Detail:  detail,
	})
	j.Progress.Failed++
	j.Cursor++
}

// Exhausted reports whether every item has been attempted.
func (j *Job) Exhausted() bool {
	return j.Cursor >= len(j.Items)
}

// Finish settles the batch outcome after all items were attempted:
// completed when no item failed, failed otherwise.
func (j *Job) Finish() error {
	to := StatusCompleted
	if j.Progress.Failed > 0 {
		to = StatusFailed
	}
	if err := j.Transition(to); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.CompletedAt = &now
	return nil
}

// Cancel stops the job before exhausting its items. Items at indices
// >= Cursor are never attempted and never appear in Results.
func (j *Job) Cancel() error {
	if err := j.Transition(StatusCancelled); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.CompletedAt = &now
	return nil
}

// Fail records a fatal executor error. This is the only path that sets the
// top-level Error and indicates a bug, not user input.
func (j *Job) Fail(cause string) {
	j.Status = StatusFailed
	j.Error = cause
	now := time.Now().UTC()
	j.CompletedAt = &now
}

// FailedItems returns the original payloads of every item that failed, in
// order. Valid because Results[i] always corresponds to Items[i].
func (j *Job) FailedItems() []JobItem {
	var failed []JobItem
	for i, r := range j.Results {
		if r.Outcome == OutcomeError {
			failed = append(failed, j.Items[i])
		}
	}
	return failed
}

// Clone returns a deep copy safe to hand outside the registry.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Items = append([]JobItem(nil), j.Items...)
	cp.Results = append([]ItemResult(nil), j.Results...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

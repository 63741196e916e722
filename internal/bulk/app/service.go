package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waservices/gateway/internal/bulk/domain"
	"github.com/waservices/gateway/internal/messaging/provider"
	"github.com/waservices/gateway/internal/platform/messagebroker"
)

// Config controls the bulk job engine.
type Config struct {
	MaxBatchSize    int
	JobEventSubject string
}

// Service is the registry of all bulk jobs. It creates jobs, serves
// read-only snapshots, and issues control signals (pause/resume/cancel/
// retry) to their executors. All jobs are exclusively owned by the
// registry; callers only ever hold the opaque id.
type Service struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]*domain.Job
	runners map[uuid.UUID]*runner

	cfg        Config
	provider   provider.MessageProvider
	repo       domain.JobRepository      // optional; nil disables durability
	natsClient *messagebroker.NatsClient // optional; nil disables job events
	logger     *slog.Logger

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// NewService creates the bulk job service. repo and natsClient may be nil.
func NewService(cfg Config, msgProvider provider.MessageProvider, repo domain.JobRepository, natsClient *messagebroker.NatsClient, logger *slog.Logger) *Service {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Service{
		jobs:       map[uuid.UUID]*domain.Job{},
		runners:    map[uuid.UUID]*runner{},
		cfg:        cfg,
		provider:   msgProvider,
		repo:       repo,
		natsClient: natsClient,
		logger:     logger.With("service", "bulk_job_app"),
		runCtx:     runCtx,
		runCancel:  runCancel,
	}
}

// CreateJob validates the batch, registers a queued job, and, when
// autoStart is set, hands it to an executor. It never blocks on execution.
func (s *Service) CreateJob(ctx context.Context, deviceID string, jobType domain.JobType, items []domain.JobItem, options domain.JobOptions) (*domain.Job, error) {
	if len(items) > s.cfg.MaxBatchSize {
		return nil, domain.ErrBatchTooLarge
	}
	job, err := domain.NewJob(deviceID, jobType, items, options)
	if err != nil {
		return nil, err
	}

	if s.repo != nil {
		if err := s.repo.Create(ctx, job); err != nil {
			s.logger.ErrorContext(ctx, "Failed to persist new job", "job_id", job.ID, "error", err)
			return nil, err
		}
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	if options.AutoStart {
		if err := job.MarkProcessing(); err != nil {
			// Unreachable from queued; kept so a future start path cannot
			// silently leave the job stuck.
			s.mu.Unlock()
			return nil, err
		}
	}
	snap := job.Clone()
	s.mu.Unlock()

	jobsCreatedCounter.Inc()
	s.logger.InfoContext(ctx, "Bulk job created",
		"job_id", snap.ID, "device_id", snap.DeviceID, "type", snap.Type,
		"total", snap.Progress.Total, "auto_start", options.AutoStart)

	if snap.Status == domain.StatusProcessing {
		// The processing row must reach the store before the executor
		// exists: once the goroutine runs, every later write is its.
		s.persist(snap)
		s.attachIfProcessing(job)
	}
	return snap, nil
}

// GetJob returns a read-only snapshot of the job.
func (s *Service) GetJob(id uuid.UUID) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

// ListJobs returns snapshots of all registered jobs, newest first.
func (s *Service) ListJobs() []*domain.Job {
	s.mu.RLock()
	out := make([]*domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}

// CancelJob stops the job before its next item. Valid from queued,
// processing, and paused. For a processing job the executor performs the
// transition at its next loop boundary; an in-flight send is never
// preempted.
func (s *Service) CancelJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrNotFound
	}

	if r, running := s.runners[id]; running {
		r.signalCancel()
		snap := job.Clone()
		s.mu.Unlock()
		return snap, nil
	}

	// No executor attached: queued or paused jobs transition directly.
	if err := job.Cancel(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snap := job.Clone()
	s.mu.Unlock()

	s.finishJob(snap)
	return snap, nil
}

// PauseJob signals the executor to stop after its current item. Valid only
// from processing.
func (s *Service) PauseJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	r, running := s.runners[id]
	if !running || job.Status != domain.StatusProcessing {
		return nil, domain.ErrInvalidTransition
	}
	r.signalPause()
	return job.Clone(), nil
}

// ResumeJob re-attaches an executor to a paused job, continuing from the
// preserved cursor.
func (s *Service) ResumeJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	if job.Status != domain.StatusPaused {
		s.mu.Unlock()
		return nil, domain.ErrInvalidTransition
	}
	if err := job.MarkProcessing(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snap := job.Clone()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Bulk job resumed", "job_id", snap.ID, "cursor", snap.Cursor)
	s.persist(snap)
	s.attachIfProcessing(job)
	return snap, nil
}

// RetryJob builds a new job containing only the failed items' original
// payloads. Valid only on a terminal job with at least one failure. The
// new job has an independent lifecycle; the original record is never
// mutated.
func (s *Service) RetryJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.RLock()
	orig, ok := s.jobs[id]
	if !ok {
		s.mu.RUnlock()
		return nil, domain.ErrNotFound
	}
	if !orig.Status.IsTerminal() {
		s.mu.RUnlock()
		return nil, domain.ErrInvalidTransition
	}
	failedItems := orig.FailedItems()
	deviceID, jobType, options := orig.DeviceID, orig.Type, orig.Options
	s.mu.RUnlock()

	if len(failedItems) == 0 {
		return nil, domain.ErrNothingToRetry
	}

	retry, err := s.CreateJob(ctx, deviceID, jobType, failedItems, options)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "Retry job created", "original_job_id", id, "job_id", retry.ID, "total", retry.Progress.Total)
	return retry, nil
}

// startLocked attaches a fresh executor to the job. Caller holds s.mu.
func (s *Service) startLocked(job *domain.Job) error {
	if err := job.MarkProcessing(); err != nil {
		return err
	}
	s.attachLocked(job)
	return nil
}

// attachLocked starts an executor goroutine for a job already in
// processing status. Caller holds s.mu.
func (s *Service) attachLocked(job *domain.Job) {
	r := newRunner()
	s.runners[job.ID] = r
	s.wg.Add(1)
	go s.runJob(s.runCtx, job, r)
}

// attachIfProcessing starts an executor unless the job left processing
// while its status row was being written (a cancel racing the start).
func (s *Service) attachIfProcessing(job *domain.Job) {
	s.mu.Lock()
	if job.Status == domain.StatusProcessing {
		s.attachLocked(job)
	}
	s.mu.Unlock()
}

// Recover re-registers persisted non-terminal jobs after a restart:
// processing jobs continue from their saved cursor, queued jobs with
// autoStart begin, paused jobs wait for an explicit resume.
func (s *Service) Recover(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	jobs, err := s.repo.ListResumable(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, job := range jobs {
		s.jobs[job.ID] = job
		switch {
		case job.Status == domain.StatusProcessing:
			s.attachLocked(job)
		case job.Status == domain.StatusQueued && job.Options.AutoStart:
			// Crashed between create and start.
			_ = s.startLocked(job)
		}
		s.logger.InfoContext(ctx, "Recovered bulk job", "job_id", job.ID, "status", job.Status, "cursor", job.Cursor)
	}
	count := len(jobs)
	s.mu.Unlock()

	if count > 0 {
		s.logger.InfoContext(ctx, "Bulk job recovery finished", "count", count)
	}
	return nil
}

// PruneTerminal drops terminal jobs whose CompletedAt is older than the
// retention age, from the registry and the store.
func (s *Service) PruneTerminal(ctx context.Context, olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)

	s.mu.Lock()
	pruned := 0
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			pruned++
		}
	}
	s.mu.Unlock()

	if s.repo != nil {
		if _, err := s.repo.DeleteTerminalBefore(ctx, cutoff); err != nil {
			s.logger.WarnContext(ctx, "Failed to prune terminal jobs from store", "error", err)
		}
	}
	if pruned > 0 {
		s.logger.InfoContext(ctx, "Pruned terminal bulk jobs", "count", pruned)
	}
	return pruned
}

// Shutdown stops all executors and waits for them to exit or the context
// to expire. Non-terminal jobs keep their persisted state for recovery.
func (s *Service) Shutdown(ctx context.Context) error {
	s.runCancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// persist writes the job snapshot through to the repository. Persistence
// failures are logged, never surfaced into the send loop.
func (s *Service) persist(snap *domain.Job) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.SaveProgress(ctx, snap); err != nil {
		s.logger.Error("Failed to persist job progress", "job_id", snap.ID, "status", snap.Status, "cursor", snap.Cursor, "error", err)
	}
}

// jobFinishedEvent is the JSON payload published when a job terminates.
type jobFinishedEvent struct {
	JobID       uuid.UUID        `json:"job_id"`
	DeviceID    string           `json:"device_id"`
	Type        domain.JobType   `json:"type"`
	Status      domain.JobStatus `json:"status"`
	Progress    domain.Progress  `json:"progress"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// finishJob records metrics, persists, and publishes the lifecycle event
// for a job that just reached a terminal status.
func (s *Service) finishJob(snap *domain.Job) {
	jobsFinishedCounter.WithLabelValues(string(snap.Status)).Inc()
	s.persist(snap)

	if s.natsClient == nil || s.cfg.JobEventSubject == "" {
		return
	}
	payload, err := json.Marshal(jobFinishedEvent{
		JobID:       snap.ID,
		DeviceID:    snap.DeviceID,
		Type:        snap.Type,
		Status:      snap.Status,
		Progress:    snap.Progress,
		CompletedAt: snap.CompletedAt,
	})
	if err != nil {
		s.logger.Error("Failed to marshal job finished event", "job_id", snap.ID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.natsClient.Publish(ctx, s.cfg.JobEventSubject, payload); err != nil {
		s.logger.Warn("Failed to publish job finished event", "job_id", snap.ID, "error", err)
	}
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/waservices/gateway/internal/bulk/domain"
	"github.com/waservices/gateway/internal/messaging/provider"
)

// runner carries the control signals for one executor attachment. A fresh
// runner is created on every start/resume so stale signals from a previous
// attachment can never leak into the next one.
type runner struct {
	cancelCh   chan struct{}
	pauseCh    chan struct{}
	cancelOnce sync.Once
	pauseOnce  sync.Once
}

func newRunner() *runner {
	return &runner{
		cancelCh: make(chan struct{}),
		pauseCh:  make(chan struct{}),
	}
}

func (r *runner) signalCancel() { r.cancelOnce.Do(func() { close(r.cancelCh) }) }
func (r *runner) signalPause()  { r.pauseOnce.Do(func() { close(r.pauseCh) }) }

func (r *runner) cancelPending() bool {
	select {
	case <-r.cancelCh:
		return true
	default:
		return false
	}
}

func (r *runner) pausePending() bool {
	select {
	case <-r.pauseCh:
		return true
	default:
		return false
	}
}

// runJob drives one job through its items, strictly sequentially. Control
// signals are acted on only at loop-iteration boundaries, so an in-flight
// send always settles before the job stops.
func (s *Service) runJob(ctx context.Context, job *domain.Job, r *runner) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.runners, job.ID)
		s.mu.Unlock()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			// A panic here is a bug in the loop itself, not user input.
			s.mu.Lock()
			job.Fail(fmt.Sprintf("executor panic: %v", rec))
			snap := job.Clone()
			s.mu.Unlock()
			s.logger.Error("Fatal executor failure",
				"job_id", snap.ID, "cursor", snap.Cursor,
				"panic", rec, "stack", string(debug.Stack()))
			s.finishJob(snap)
		}
	}()

	start := time.Now()
	s.logger.Info("Bulk job executor started", "job_id", job.ID, "total", job.Progress.Total, "cursor", job.Cursor)

	for {
		// Process shutdown: leave the job as-is; recovery picks it up from
		// the persisted cursor on the next start.
		if ctx.Err() != nil {
			s.logger.Warn("Executor stopping on shutdown", "job_id", job.ID, "cursor", job.Cursor)
			return
		}

		s.mu.Lock()
		// Exhaustion wins over signals: a pause or cancel arriving during
		// the last item's send must not park a fully-attempted batch.
		if job.Exhausted() {
			_ = job.Finish()
			snap := job.Clone()
			s.mu.Unlock()
			s.logFinished(snap, time.Since(start))
			s.finishJob(snap)
			return
		}
		if r.cancelPending() {
			if err := job.Cancel(); err != nil {
				s.mu.Unlock()
				return
			}
			snap := job.Clone()
			s.mu.Unlock()
			s.logger.Info("Bulk job cancelled", "job_id", snap.ID, "cursor", snap.Cursor)
			s.finishJob(snap)
			return
		}
		if r.pausePending() {
			if err := job.Transition(domain.StatusPaused); err != nil {
				s.mu.Unlock()
				return
			}
			snap := job.Clone()
			s.mu.Unlock()
			s.logger.Info("Bulk job paused", "job_id", snap.ID, "cursor", snap.Cursor)
			s.persist(snap)
			return
		}
		item := job.Items[job.Cursor]
		jobType := job.Type
		deviceID := job.DeviceID
		delay := job.Options.Delay
		last := job.Cursor == len(job.Items)-1
		s.mu.Unlock()

		detail, err := s.sendOne(ctx, jobType, deviceID, item)

		s.mu.Lock()
		if err != nil {
			job.RecordFailure(err.Error())
			itemsSentCounter.WithLabelValues(string(domain.OutcomeError)).Inc()
		} else {
			job.RecordSuccess(detail)
			itemsSentCounter.WithLabelValues(string(domain.OutcomeSuccess)).Inc()
		}
		snap := job.Clone()
		s.mu.Unlock()
		s.persist(snap)

		if err != nil {
			s.logger.Warn("Bulk item send failed", "job_id", job.ID, "target", item.Target, "error", err)
		}

		// Inter-item wait: this is the rate-limiting mechanism. Signals wake
		// the wait early but are only acted on at the top of the loop.
		if !last && delay > 0 {
			waitDelay(ctx, r, delay)
		}
	}
}

// sendOne invokes the Send Operation for a single item. Any panic inside
// the provider is folded into an ordinary per-item error so one bad item
// can never take down the batch.
func (s *Service) sendOne(ctx context.Context, jobType domain.JobType, deviceID string, item domain.JobItem) (detail string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("send panicked: %v", rec)
		}
	}()

	timer := prometheus.NewTimer(itemSendDurationHist)
	defer timer.ObserveDuration()

	details := provider.SendRequestDetails{
		DeviceID: deviceID,
		Target:   item.Target,
		Message:  item.Message,
		MediaURL: item.MediaURL,
		Caption:  item.Caption,
	}

	var resp *provider.SendResponseDetails
	switch jobType {
	case domain.JobTypeSendMedia:
		resp, err = s.provider.SendMedia(ctx, details)
	default:
		resp, err = s.provider.SendText(ctx, details)
	}
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	if resp.ProviderMessageID != "" {
		return resp.ProviderMessageID, nil
	}
	return resp.ProviderStatus, nil
}

func (s *Service) logFinished(snap *domain.Job, took time.Duration) {
	fields := []any{
		slog.String("job_id", snap.ID.String()),
		slog.Int("total", snap.Progress.Total),
		slog.Int("completed", snap.Progress.Completed),
		slog.Int("failed", snap.Progress.Failed),
		slog.Duration("took", took),
	}
	if snap.Status == domain.StatusFailed {
		s.logger.Warn("Bulk job finished with failures", fields...)
	} else {
		s.logger.Info("Bulk job finished", fields...)
	}
}

// waitDelay sleeps for the inter-item delay, waking early on shutdown or a
// control signal.
func waitDelay(ctx context.Context, r *runner, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-r.cancelCh:
	case <-r.pauseCh:
	}
}

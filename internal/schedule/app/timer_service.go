package app

import (
	"container/heap"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/waservices/gateway/internal/messaging/provider"
	"github.com/waservices/gateway/internal/schedule/domain"
)

var (
	schedulesArmedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wagateway",
			Subsystem: "schedule",
			Name:      "armed_total",
			Help:      "Total number of scheduled messages armed.",
		},
	)
	schedulesCancelledCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wagateway",
			Subsystem: "schedule",
			Name:      "cancelled_total",
			Help:      "Total number of scheduled messages cancelled before firing.",
		},
	)
	schedulesFiredCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagateway",
			Subsystem: "schedule",
			Name:      "fired_total",
			Help:      "Total number of scheduled messages fired, by send outcome.",
		},
		[]string{"outcome"},
	)
)

// entry is one armed deadline in the heap.
type entry struct {
	msg   *domain.ScheduledMessage
	index int
}

// deadlineHeap orders entries by FireAt, earliest first.
type deadlineHeap []*entry

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, k int) bool { return h[i].msg.FireAt.Before(h[k].msg.FireAt) }
func (h deadlineHeap) Swap(i, k int) {
	h[i], h[k] = h[k], h[i]
	h[i].index = i
	h[k].index = k
}
func (h *deadlineHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Service is the scheduled-message timer service: a registry of one-shot
// schedules driven by a single coordinator goroutine over a min-heap of
// deadlines, so hundreds of schedules never pin hundreds of timers.
type Service struct {
	mu   sync.Mutex
	h    deadlineHeap
	byID map[uuid.UUID]*entry
	wake chan struct{}

	provider    provider.MessageProvider
	repo        domain.ScheduleRepository // optional; nil disables durability
	sendTimeout time.Duration
	logger      *slog.Logger

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// NewService creates the timer service. repo may be nil.
func NewService(msgProvider provider.MessageProvider, repo domain.ScheduleRepository, sendTimeout time.Duration, logger *slog.Logger) *Service {
	if sendTimeout <= 0 {
		sendTimeout = 60 * time.Second
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Service{
		byID:        map[uuid.UUID]*entry{},
		wake:        make(chan struct{}, 1),
		provider:    msgProvider,
		repo:        repo,
		sendTimeout: sendTimeout,
		logger:      logger.With("service", "schedule_app"),
		runCtx:      runCtx,
		runCancel:   runCancel,
	}
}

// Start launches the coordinator goroutine.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.coordinate()
	s.logger.Info("Scheduled-message timer service started")
}

// Shutdown stops the coordinator. Armed schedules keep their persisted
// rows for recovery on the next start.
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

// Schedule validates and arms a one-shot schedule. Fails synchronously
// with ErrInvalidSchedule when fireAt is not strictly in the future.
func (s *Service) Schedule(ctx context.Context, deviceID, target, message string, fireAt time.Time, timezone string) (*domain.ScheduledMessage, error) {
	if !fireAt.After(time.Now()) {
		return nil, domain.ErrInvalidSchedule
	}

	msg := domain.NewScheduledMessage(deviceID, target, message, fireAt, timezone)

	if s.repo != nil {
		if err := s.repo.Create(ctx, msg); err != nil {
			s.logger.ErrorContext(ctx, "Failed to persist schedule", "schedule_id", msg.ID, "error", err)
			return nil, err
		}
	}

	s.arm(msg)
	schedulesArmedCounter.Inc()
	s.logger.InfoContext(ctx, "Scheduled message armed",
		"schedule_id", msg.ID, "device_id", deviceID, "target", target,
		"fire_at", fireAt, "in", time.Until(fireAt))
	return msg.Clone(), nil
}

// Cancel disarms a schedule that has not yet fired. Returns false for an
// unknown id or a schedule that already fired.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) bool {
	s.mu.Lock()
	e, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	heap.Remove(&s.h, e.index)
	delete(s.byID, id)
	s.mu.Unlock()

	s.notify()
	s.deleteRow(id)
	schedulesCancelledCounter.Inc()
	s.logger.InfoContext(ctx, "Scheduled message cancelled", "schedule_id", id)
	return true
}

// List returns a snapshot of all still-armed schedules, earliest first,
// optionally filtered by device.
func (s *Service) List(deviceID string) []*domain.ScheduledMessage {
	s.mu.Lock()
	out := make([]*domain.ScheduledMessage, 0, len(s.byID))
	for _, e := range s.byID {
		if deviceID != "" && e.msg.DeviceID != deviceID {
			continue
		}
		out = append(out, e.msg.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool { return out[i].FireAt.Before(out[k].FireAt) })
	return out
}

// Recover re-arms persisted schedules after a restart. Schedules whose
// fire time already passed are dropped with a warning rather than fired
// late.
func (s *Service) Recover(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	armed, stale := 0, 0
	for _, msg := range pending {
		if !msg.FireAt.After(now) {
			stale++
			s.logger.WarnContext(ctx, "Dropping stale schedule instead of firing late",
				"schedule_id", msg.ID, "device_id", msg.DeviceID, "fire_at", msg.FireAt)
			s.deleteRow(msg.ID)
			continue
		}
		s.arm(msg)
		armed++
	}
	if armed > 0 || stale > 0 {
		s.logger.InfoContext(ctx, "Schedule recovery finished", "armed", armed, "stale_dropped", stale)
	}
	return nil
}

// arm inserts the schedule into the heap and wakes the coordinator in case
// the new deadline is earlier than the one it is waiting on.
func (s *Service) arm(msg *domain.ScheduledMessage) {
	e := &entry{msg: msg}
	s.mu.Lock()
	heap.Push(&s.h, e)
	s.byID[msg.ID] = e
	s.mu.Unlock()
	s.notify()
}

func (s *Service) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// coordinate waits on the earliest armed deadline, firing every schedule
// that comes due and re-waiting whenever the heap changes.
func (s *Service) coordinate() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		var next time.Time
		if s.h.Len() > 0 {
			next = s.h[0].msg.FireAt
		}
		s.mu.Unlock()

		if next.IsZero() {
			select {
			case <-s.runCtx.Done():
				return
			case <-s.wake:
				continue
			}
		}

		wait := time.Until(next)
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-s.runCtx.Done():
				t.Stop()
				return
			case <-s.wake:
				t.Stop()
				continue
			case <-t.C:
			}
		}

		s.fireDue()
	}
}

// fireDue pops every entry whose deadline has passed and fires it. The
// record disappears from the registry whether the send succeeds or fails.
func (s *Service) fireDue() {
	now := time.Now()

	s.mu.Lock()
	var due []*domain.ScheduledMessage
	for s.h.Len() > 0 && !s.h[0].msg.FireAt.After(now) {
		e := heap.Pop(&s.h).(*entry)
		delete(s.byID, e.msg.ID)
		due = append(due, e.msg)
	}
	s.mu.Unlock()

	for _, msg := range due {
		s.deleteRow(msg.ID)
		// Each fire runs in its own goroutine so a slow transport never
		// delays the next due schedule.
		s.wg.Add(1)
		go s.fire(msg)
	}
}

func (s *Service) fire(msg *domain.ScheduledMessage) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.runCtx, s.sendTimeout)
	defer cancel()

	_, err := s.provider.SendText(ctx, provider.SendRequestDetails{
		DeviceID: msg.DeviceID,
		Target:   msg.Target,
		Message:  msg.Message,
	})
	if err != nil {
		schedulesFiredCounter.WithLabelValues("error").Inc()
		s.logger.Warn("Scheduled message send failed",
			"schedule_id", msg.ID, "device_id", msg.DeviceID, "target", msg.Target, "error", err)
		return
	}
	schedulesFiredCounter.WithLabelValues("success").Inc()
	s.logger.Info("Scheduled message fired",
		"schedule_id", msg.ID, "device_id", msg.DeviceID, "target", msg.Target)
}

func (s *Service) deleteRow(id uuid.UUID) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.Warn("Failed to delete schedule row", "schedule_id", id, "error", err)
	}
}

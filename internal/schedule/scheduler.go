package schedule

import (
	"errors"
	"sync"
	"time"

	"mailmaestro/internal/logger"
	apperrors "mailmaestro/pkg/errors"
	"mailmaestro/pkg/metrics"
)

// ErrDuplicateJob is returned when a job id is already pending. Callers that
// schedule per-message jobs rely on this to avoid double side effects.
var ErrDuplicateJob = errors.New("job with this id is already scheduled")

// ErrStopped is returned once the scheduler has been shut down.
var ErrStopped = errors.New("scheduler is stopped")

// Scheduler runs jobs once at a future time. Each pending job is identified
// by a caller-chosen id; a second Schedule with the same id is rejected while
// the first is still pending.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]*job
	stopped bool
	wg      sync.WaitGroup
	logger  logger.Logger
}

type job struct {
	timer *time.Timer
	fn    func()
}

func NewScheduler(log logger.Logger) *Scheduler {
	return &Scheduler{
		pending: make(map[string]*job),
		logger:  log,
	}
}

// Schedule registers fn to run once at the given time. Times in the past run
// almost immediately. The job still executes on its own goroutine, never on
// the caller's.
func (s *Scheduler) Schedule(id string, at time.Time, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if _, exists := s.pending[id]; exists {
		return ErrDuplicateJob
	}

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	s.wg.Add(1)
	timer := time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.remove(id)
		s.runJob(id, fn)
	})
	s.pending[id] = &job{timer: timer, fn: fn}
	metrics.ScheduledJobsPending.Set(float64(len(s.pending)))

	s.logger.Debugw("job scheduled", "job_id", id, "run_at", at, "delay", delay)
	return nil
}

// Cancel drops a pending job. Cancelling an unknown or already-fired id is a
// no-op and returns false.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	metrics.ScheduledJobsPending.Set(float64(len(s.pending)))
	if j.timer.Stop() {
		s.wg.Done()
	}
	return true
}

// Pending reports the number of jobs waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels all pending jobs and waits for any job currently executing to
// finish. Further Schedule calls fail with ErrStopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, j := range s.pending {
		delete(s.pending, id)
		if j.timer.Stop() {
			s.wg.Done()
		}
	}
	metrics.ScheduledJobsPending.Set(0)
	s.mu.Unlock()

	s.wg.Wait()
}

// Drain runs every pending job immediately instead of waiting out its delay,
// then blocks until all jobs have finished. One-shot runs use this before
// exit so deferred work is not lost; further Schedule calls fail with
// ErrStopped.
func (s *Scheduler) Drain() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true

	owned := make(map[string]*job)
	for id, j := range s.pending {
		delete(s.pending, id)
		if j.timer.Stop() {
			// Timer disarmed before firing, the job is ours to run.
			owned[id] = j
		}
	}
	metrics.ScheduledJobsPending.Set(0)
	s.mu.Unlock()

	for id, j := range owned {
		s.runJob(id, j.fn)
		s.wg.Done()
	}
	s.wg.Wait()
}

func (s *Scheduler) runJob(id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := apperrors.RecoverPanic(r)
			s.logger.Errorw("Panic recovered during scheduled job", "error", err, "job_id", id)
		}
	}()
	fn()
}

func (s *Scheduler) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	metrics.ScheduledJobsPending.Set(float64(len(s.pending)))
}

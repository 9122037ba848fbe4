// Package scheduler runs the feed task periodically with at most one run
// in flight at a time.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the time between scheduled runs.
const DefaultInterval = 5 * time.Minute

// ErrAlreadyRunning is returned by RunOnce while another run is in flight.
var ErrAlreadyRunning = errors.New("a run is already in progress")

// Task is one scheduled unit of work.
type Task func(ctx context.Context) error

// PauseCheck reports whether scheduled runs should be held back, and why.
type PauseCheck func() (bool, string)

// Stats contains scheduler statistics.
type Stats struct {
	Runs           int64         `json:"runs"`
	Failures       int64         `json:"failures"`
	SkippedOverlap int64         `json:"skipped_overlap"`
	SkippedPaused  int64         `json:"skipped_paused"`
	Paused         bool          `json:"paused"`
	Running        bool          `json:"running"`
	LastRunAt      time.Time     `json:"last_run_at,omitempty"`
	LastDuration   time.Duration `json:"last_duration,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
}

// Scheduler triggers a Task on a fixed interval. The first run happens
// immediately; a trigger that fires while a run is in flight is dropped.
type Scheduler struct {
	mu sync.Mutex

	interval   time.Duration
	task       Task
	pauseCheck PauseCheck

	running atomic.Bool
	paused  atomic.Bool
	wg      sync.WaitGroup

	stats Stats

	// nowFn allows test time injection.
	nowFn func() time.Time
}

// New creates a Scheduler. A non-positive interval uses DefaultInterval.
func New(interval time.Duration, task Task) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{interval: interval, task: task, nowFn: time.Now}
}

// Interval returns the configured interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// SetPauseCheck installs a gate consulted before every scheduled run.
func (s *Scheduler) SetPauseCheck(fn PauseCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseCheck = fn
}

// Pause holds back scheduled runs until Resume.
func (s *Scheduler) Pause() {
	if !s.paused.Swap(true) {
		slog.Info("scheduler paused")
	}
}

// Resume re-enables scheduled runs.
func (s *Scheduler) Resume() {
	if s.paused.Swap(false) {
		slog.Info("scheduler resumed")
	}
}

// Paused reports whether Pause is in effect.
func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// Run blocks until ctx is done, triggering the task every interval. It
// waits for an in-flight run to finish before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.trigger(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

// trigger starts a run in the background unless one is in flight or the
// scheduler is paused.
func (s *Scheduler) trigger(ctx context.Context) {
	if reason, held := s.held(); held {
		s.mu.Lock()
		s.stats.SkippedPaused++
		s.mu.Unlock()
		slog.Warn("scheduled run skipped", "reason", reason)
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.stats.SkippedOverlap++
		s.mu.Unlock()
		slog.Warn("scheduled run skipped", "reason", "previous run still in progress")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		_ = s.execute(ctx)
	}()
}

func (s *Scheduler) held() (string, bool) {
	if s.paused.Load() {
		return "paused", true
	}
	s.mu.Lock()
	check := s.pauseCheck
	s.mu.Unlock()
	if check != nil {
		if pause, reason := check(); pause {
			return reason, true
		}
	}
	return "", false
}

// RunOnce runs the task synchronously, ignoring Pause. It returns
// ErrAlreadyRunning if a run is in flight.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)
	return s.execute(ctx)
}

func (s *Scheduler) execute(ctx context.Context) error {
	start := s.nowFn()
	err := s.task(ctx)
	elapsed := s.nowFn().Sub(start)

	s.mu.Lock()
	s.stats.Runs++
	s.stats.LastRunAt = start
	s.stats.LastDuration = elapsed
	s.stats.LastError = ""
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		slog.Error("scheduled run failed", "error", err, "duration", elapsed)
	} else {
		slog.Info("scheduled run finished", "duration", elapsed)
	}
	return err
}

// Stats returns a snapshot of the scheduler statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Paused = s.paused.Load()
	st.Running = s.running.Load()
	return st
}

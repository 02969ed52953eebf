// Package scheduler runs the detection pipeline periodically during the
// observation window.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/lock"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/schedule"
)

// Recheck intervals used when no run is due
const (
	DisabledRecheck = 60 * time.Second
	OutsideRecheck  = 300 * time.Second
	ErrorBackoff    = 60 * time.Second
)

// Run outcomes reported in Status.LastRunResult
const (
	ResultCompleted   = "completed"
	ResultSkippedLock = "skipped_lock"
	ResultSkippedBusy = "skipped_busy"
	ResultError       = "error"
)

// GetLogger returns the scheduler module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("scheduler")
}

// RunFunc executes one pipeline run for the observation date and returns the
// number of detections it found
type RunFunc func(ctx context.Context, date string) (int, error)

// Resolver supplies the effective schedule for a night
type Resolver interface {
	Resolve(ctx context.Context, obsDate time.Time) (schedule.Plan, error)
	Location() *time.Location
}

// WaitFunc sleeps for d or until ctx is done. It reports false when ctx
// ended the wait.
type WaitFunc func(ctx context.Context, d time.Duration) bool

// Status is a snapshot of the scheduler state
type Status struct {
	Enabled             bool       `json:"enabled"`
	Running             bool       `json:"running"`
	InObservationWindow bool       `json:"in_observation_window"`
	PipelineRunning     bool       `json:"pipeline_running"`
	LastRunAt           *time.Time `json:"last_run_at"`
	LastRunResult       string     `json:"last_run_result,omitempty"`
	LastRunDetections   int        `json:"last_run_detections"`
	LastError           string     `json:"last_error,omitempty"`
	NextRunAt           *time.Time `json:"next_run_at"`
	IntervalMinutes     int        `json:"interval_minutes"`
	ObservationStart    string     `json:"observation_start,omitempty"`
	ObservationEnd      string     `json:"observation_end,omitempty"`
}

// Scheduler is the long-lived loop around the pipeline
type Scheduler struct {
	resolver Resolver
	run      RunFunc
	lockPath string
	now      func() time.Time
	wait     WaitFunc

	mu     sync.RWMutex
	status Status
	worker sync.WaitGroup
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithWait replaces the sleep between cycles
func WithWait(wait WaitFunc) Option {
	return func(s *Scheduler) { s.wait = wait }
}

// New creates a scheduler. Each run holds the file lock at lockPath.
func New(resolver Resolver, run RunFunc, lockPath string, opts ...Option) *Scheduler {
	s := &Scheduler{
		resolver: resolver,
		run:      run,
		lockPath: lockPath,
		now:      time.Now,
		wait:     sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Status returns a copy of the current state
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Scheduler) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

// Run loops until ctx is cancelled and then waits for an in-flight
// pipeline run to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.update(func(st *Status) { st.Running = true })
	defer s.update(func(st *Status) {
		st.Running = false
		st.NextRunAt = nil
	})
	defer s.worker.Wait()

	GetLogger().Info("scheduler started", logger.String("lock_path", s.lockPath))
	for {
		delay := s.cycle(ctx)

		next := s.now().Add(delay)
		s.update(func(st *Status) { st.NextRunAt = &next })

		if !s.wait(ctx, delay) {
			GetLogger().Info("scheduler stopped")
			return nil
		}
	}
}

// cycle performs one scheduling decision and returns how long to wait
func (s *Scheduler) cycle(ctx context.Context) time.Duration {
	now := s.now().In(s.resolver.Location())
	obsDate := schedule.ObservationDate(now)

	plan, err := s.resolver.Resolve(ctx, obsDate)
	if err != nil {
		GetLogger().Error("failed to resolve schedule", logger.Error(err))
		s.update(func(st *Status) { st.LastError = err.Error() })
		return ErrorBackoff
	}

	active := plan.Window.Extend(plan.IntervalMinutes)
	inWindow := active.Contains(schedule.ClockOf(now))
	enabled := plan.Enabled && plan.IntervalMinutes > 0

	s.update(func(st *Status) {
		st.Enabled = enabled
		st.IntervalMinutes = plan.IntervalMinutes
		st.ObservationStart = plan.Window.Start.String()
		st.ObservationEnd = plan.Window.End.String()
		st.InObservationWindow = inWindow
	})

	if !enabled {
		GetLogger().Debug("scheduler disabled")
		return DisabledRecheck
	}
	if !inWindow {
		GetLogger().Debug("outside observation window",
			logger.String("window", active.String()),
			logger.String("now", schedule.ClockOf(now).String()))
		return OutsideRecheck
	}

	s.startWorker(ctx, plan.Date)
	return time.Duration(plan.IntervalMinutes) * time.Minute
}

// startWorker runs the pipeline on its own goroutine so a long night does not
// hold up the loop. A run still in progress causes this cycle to be skipped.
func (s *Scheduler) startWorker(ctx context.Context, date string) {
	s.mu.Lock()
	if s.status.PipelineRunning {
		s.mu.Unlock()
		GetLogger().Info("previous run still in progress, skipping cycle", logger.String("date", date))
		s.record(ResultSkippedBusy, 0, nil)
		return
	}
	s.status.PipelineRunning = true
	s.mu.Unlock()

	s.worker.Add(1)
	go func() {
		defer s.worker.Done()
		defer s.update(func(st *Status) { st.PipelineRunning = false })
		s.execute(ctx, date)
	}()
}

func (s *Scheduler) execute(ctx context.Context, date string) {
	log := GetLogger().With(logger.String("date", date))

	var detections int
	err := lock.WithLock(s.lockPath, func() error {
		var runErr error
		detections, runErr = s.run(ctx, date)
		return runErr
	})

	switch {
	case errors.Is(err, lock.ErrLocked):
		log.Info("another run holds the lock, skipping cycle")
		s.record(ResultSkippedLock, 0, nil)
	case err != nil:
		log.Error("scheduled run failed", logger.Error(err))
		s.record(ResultError, 0, err)
	default:
		log.Info("scheduled run completed", logger.Int("detections", detections))
		s.record(ResultCompleted, detections, nil)
	}
}

func (s *Scheduler) record(result string, detections int, err error) {
	at := s.now()
	s.update(func(st *Status) {
		st.LastRunAt = &at
		st.LastRunResult = result
		st.LastRunDetections = detections
		st.LastError = ""
		if err != nil {
			st.LastError = err.Error()
		}
	})
}

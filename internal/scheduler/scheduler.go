// Package scheduler invokes a job on a recurring schedule. The job runs
// synchronously on the scheduler goroutine, so a slow job delays rather than
// overlaps the next fire, and fire times missed while it ran are skipped.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Job is the unit of work fired on each tick.
type Job func(ctx context.Context)

// Scheduler fires a Job according to a Schedule.
type Scheduler struct {
	schedule Schedule
	job      Job
	logger   *slog.Logger
	now      func() time.Time

	trigger chan struct{}

	mu   sync.RWMutex
	next time.Time
}

// New creates a Scheduler.
func New(schedule Schedule, job Job, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		schedule: schedule,
		job:      job,
		logger:   logger.With(slog.String("component", "scheduler")),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger asks the loop to fire the job now. It reports false when a manual
// fire is already pending. The job still runs on the loop goroutine, so it
// never overlaps a scheduled fire.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// NextFire is the pending fire time, zero when the loop is not waiting.
func (s *Scheduler) NextFire() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next
}

func (s *Scheduler) setNext(t time.Time) {
	s.mu.Lock()
	s.next = t
	s.mu.Unlock()
}

// Run blocks until ctx is cancelled, firing the job at each scheduled time.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started")
	defer s.setNext(time.Time{})

	for {
		now := s.now()
		next := s.schedule.Next(now)
		if next.IsZero() {
			return errors.New("scheduler: schedule has no future fire time")
		}
		s.setNext(next)

		wait := next.Sub(now)
		s.logger.Info("waiting for next trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			s.setNext(time.Time{})
			s.job(ctx)
		case <-s.trigger:
			timer.Stop()
			s.logger.Info("manual trigger")
			s.setNext(time.Time{})
			s.job(ctx)
		}
	}
}

package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskminder/internal/clock"
	"taskminder/internal/deadline"
	"taskminder/internal/jobs"
	"taskminder/internal/logger"
	"taskminder/internal/metrics"
	"taskminder/internal/notify"
)

var (
	ErrInvalidDeadline = deadline.ErrInvalidDeadline
	// ErrSchedulingUnavailable means the job store could not be reached. The task
	// mutation itself may still be committed, depending on the caller's policy.
	ErrSchedulingUnavailable = errors.New("scheduling unavailable")
)

// replaceAttempts bounds cancel-then-insert retries when concurrent updates of
// the same task race for its key.
const replaceAttempts = 3

// Task is the part of a task record the scheduler reads.
type Task struct {
	ID           uint64
	Recipient    string
	Description  string
	DeadlineDate string
	DeadlineTime string
	Completed    bool
}

// Scheduler turns task lifecycle events into job store operations.
type Scheduler struct {
	Store    jobs.Store
	Clock    clock.Clock
	Location *time.Location
	Log      *logger.Logger
	Metrics  *metrics.Metrics
}

// OnTaskCreated schedules a reminder when the deadline lies strictly in the future.
// Past deadlines are silently not reminded.
func (s *Scheduler) OnTaskCreated(ctx context.Context, t Task) error {
	fireAt, err := deadline.Resolve(t.DeadlineDate, t.DeadlineTime, s.Location)
	if err != nil {
		return err
	}
	if t.Completed {
		return nil
	}
	return s.schedule(ctx, t, fireAt)
}

// OnTaskUpdated replaces any pending reminder with one built from the task's new
// values. A job the dispatcher already took is not retracted.
func (s *Scheduler) OnTaskUpdated(ctx context.Context, t Task) error {
	fireAt, err := deadline.Resolve(t.DeadlineDate, t.DeadlineTime, s.Location)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		if err := s.cancel(ctx, t.ID); err != nil {
			return err
		}
		if t.Completed {
			return nil
		}
		err := s.schedule(ctx, t, fireAt)
		if !errors.Is(err, jobs.ErrDuplicateKey) || attempt >= replaceAttempts {
			return err
		}
		s.log().Debugw("reminder replace raced, retrying", "task_id", t.ID, "attempt", attempt)
	}
}

func (s *Scheduler) OnTaskCompleted(ctx context.Context, taskID uint64) error {
	return s.cancel(ctx, taskID)
}

func (s *Scheduler) OnTaskDeleted(ctx context.Context, taskID uint64) error {
	return s.cancel(ctx, taskID)
}

// Pending returns the reminder waiting for taskID, or nil.
func (s *Scheduler) Pending(ctx context.Context, taskID uint64) (*jobs.Job, error) {
	j, err := s.Store.Pending(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchedulingUnavailable, err)
	}
	return j, nil
}

func (s *Scheduler) schedule(ctx context.Context, t Task, fireAt time.Time) error {
	now := s.now()
	if !fireAt.After(now) {
		s.Metrics.Skipped()
		s.log().Debugw("deadline not in the future, no reminder", "task_id", t.ID, "fire_at", fireAt)
		return nil
	}

	p := jobs.Payload{
		Recipient: t.Recipient,
		Subject:   notify.ReminderSubject(t.Description),
		Body:      notify.ReminderBody(t.Description),
	}
	err := s.Store.Insert(ctx, t.ID, fireAt.Sub(now), p)
	switch {
	case err == nil:
		s.Metrics.Scheduled()
		s.log().Debugw("reminder scheduled", "task_id", t.ID, "fire_at", fireAt)
		return nil
	case errors.Is(err, jobs.ErrDuplicateKey):
		s.log().Errorw("pending reminder already exists", "task_id", t.ID)
		return err
	default:
		s.Metrics.SchedulingFailed()
		return fmt.Errorf("%w: %w", ErrSchedulingUnavailable, err)
	}
}

func (s *Scheduler) cancel(ctx context.Context, taskID uint64) error {
	removed, err := s.Store.Cancel(ctx, taskID)
	if err != nil {
		s.Metrics.SchedulingFailed()
		return fmt.Errorf("%w: %w", ErrSchedulingUnavailable, err)
	}
	if removed {
		s.Metrics.Canceled()
	}
	return nil
}

func (s *Scheduler) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

func (s *Scheduler) log() *logger.Logger {
	if s.Log == nil {
		return logger.Nop()
	}
	return s.Log
}

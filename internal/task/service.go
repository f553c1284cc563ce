package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskminder/internal/auth"
	"taskminder/internal/config"
	"taskminder/internal/deadline"
	"taskminder/internal/jobs"
	"taskminder/internal/logger"
	"taskminder/internal/reminder"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound     = errors.New("task not found")
	ErrForbidden    = errors.New("task belongs to another user")
	ErrInvalidInput = errors.New("invalid task input")
)

// Hooks receives task lifecycle events inside each mutation's transaction.
// *reminder.Scheduler implements it.
type Hooks interface {
	OnTaskCreated(ctx context.Context, t reminder.Task) error
	OnTaskUpdated(ctx context.Context, t reminder.Task) error
	OnTaskCompleted(ctx context.Context, taskID uint64) error
	OnTaskDeleted(ctx context.Context, taskID uint64) error
	Pending(ctx context.Context, taskID uint64) (*jobs.Job, error)
}

type Service struct {
	DB       *gorm.DB
	Hooks    Hooks
	Policy   config.Policy
	Location *time.Location
	Log      *logger.Logger
}

type Input struct {
	Description  string
	DeadlineDate string
	DeadlineTime string
}

func (s *Service) List(ctx context.Context, userID uint64) ([]Task, error) {
	var out []Task
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc, id desc").
		Find(&out).Error
	return out, err
}

// Get is scoped to the owner: another user's task reads as not found.
func (s *Service) Get(ctx context.Context, userID, id uint64) (*Task, error) {
	var t Task
	err := s.DB.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Service) Create(ctx context.Context, userID uint64, in Input) (*Task, error) {
	in, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	t := Task{
		UserID:       userID,
		Description:  in.Description,
		DeadlineDate: in.DeadlineDate,
		DeadlineTime: in.DeadlineTime,
		Status:       StatusPending,
	}
	var recipient string

	err = s.mutate(ctx, &t.ID, func(tx *gorm.DB) error {
		email, err := ownerEmail(tx, userID)
		if err != nil {
			return err
		}
		recipient = email
		return tx.Create(&t).Error
	}, func(ctx context.Context) error {
		return s.Hooks.OnTaskCreated(ctx, event(&t, recipient))
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Service) Update(ctx context.Context, userID, id uint64, in Input) (*Task, error) {
	in, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	var (
		t         Task
		recipient string
	)
	err = s.mutate(ctx, &id, func(tx *gorm.DB) error {
		if err := lockOwned(tx, userID, id, &t); err != nil {
			return err
		}
		t.Description = in.Description
		t.DeadlineDate = in.DeadlineDate
		t.DeadlineTime = in.DeadlineTime
		if err := tx.Save(&t).Error; err != nil {
			return err
		}
		email, err := ownerEmail(tx, userID)
		recipient = email
		return err
	}, func(ctx context.Context) error {
		return s.Hooks.OnTaskUpdated(ctx, event(&t, recipient))
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Service) Complete(ctx context.Context, userID, id uint64) (*Task, error) {
	var t Task
	err := s.mutate(ctx, &id, func(tx *gorm.DB) error {
		if err := lockOwned(tx, userID, id, &t); err != nil {
			return err
		}
		t.Status = StatusCompleted
		return tx.Save(&t).Error
	}, func(ctx context.Context) error {
		return s.Hooks.OnTaskCompleted(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Service) Delete(ctx context.Context, userID, id uint64) error {
	return s.mutate(ctx, &id, func(tx *gorm.DB) error {
		var t Task
		if err := lockOwned(tx, userID, id, &t); err != nil {
			return err
		}
		return tx.Delete(&t).Error
	}, func(ctx context.Context) error {
		return s.Hooks.OnTaskDeleted(ctx, id)
	})
}

// Reminder returns the pending reminder for an owned task, or nil when none is waiting.
func (s *Service) Reminder(ctx context.Context, userID, id uint64) (*jobs.Job, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.Hooks.Pending(ctx, id)
}

// mutate runs write and then hook in one transaction, while the row lock taken
// by write is still held, so hooks for the same task run in commit order. The
// hook's job writes join the transaction. Strict lets a hook failure roll the
// write back; degraded confines it to a savepoint and only logs it.
func (s *Service) mutate(ctx context.Context, id *uint64, write func(tx *gorm.DB) error, hook func(context.Context) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := write(tx); err != nil {
			return err
		}

		if s.Policy == config.PolicyStrict {
			return hook(jobs.WithTx(ctx, tx))
		}

		err := tx.Transaction(func(sp *gorm.DB) error {
			return hook(jobs.WithTx(ctx, sp))
		})
		if err != nil {
			s.log().Warnw("task saved, reminder not updated", "task_id", *id, "error", err)
		}
		return nil
	})
}

func (s *Service) normalize(in Input) (Input, error) {
	in.Description = strings.TrimSpace(in.Description)
	if in.Description == "" {
		return in, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	at, err := deadline.Resolve(in.DeadlineDate, in.DeadlineTime, s.Location)
	if err != nil {
		return in, err
	}
	in.DeadlineDate = at.Format(deadline.DateLayout)
	in.DeadlineTime = at.Format("15:04")
	return in, nil
}

func (s *Service) log() *logger.Logger {
	if s.Log == nil {
		return logger.Nop()
	}
	return s.Log
}

func lockOwned(tx *gorm.DB, userID, id uint64, t *Task) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if t.UserID != userID {
		return ErrForbidden
	}
	return nil
}

func ownerEmail(tx *gorm.DB, userID uint64) (string, error) {
	var u auth.User
	err := tx.Select("id", "email").First(&u, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	return u.Email, err
}

func event(t *Task, recipient string) reminder.Task {
	return reminder.Task{
		ID:           t.ID,
		Recipient:    recipient,
		Description:  t.Description,
		DeadlineDate: t.DeadlineDate,
		DeadlineTime: t.DeadlineTime,
		Completed:    t.Status == StatusCompleted,
	}
}

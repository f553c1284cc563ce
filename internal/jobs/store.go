package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateKey means a pending job already exists for the key. Callers cancel before inserting,
	// so this indicates an internal-consistency fault or two concurrent replacements of the same key.
	ErrDuplicateKey = errors.New("duplicate reminder job key")
	// ErrUnavailable wraps any I/O failure of the backing store.
	ErrUnavailable = errors.New("job store unavailable")
	ErrInvalidState = errors.New("invalid job state transition")
)

// Store is a keyed, delayed-visibility queue of reminder jobs.
type Store interface {
	// Insert adds a pending job for key, visible once delay has elapsed.
	Insert(ctx context.Context, key uint64, delay time.Duration, p Payload) error
	// Cancel removes the pending job for key and reports whether one existed. It is a no-op when none
	// exists or the job was already dequeued.
	Cancel(ctx context.Context, key uint64) (bool, error)
	// TakeDue moves one job with FireAt <= now to IN_FLIGHT and returns it, or nil when nothing is due.
	TakeDue(ctx context.Context, workerID string) (*Job, error)
	// Finish records the terminal state of an in-flight job and removes it.
	Finish(ctx context.Context, job *Job, state State) error
	// Pending returns the pending job for key, or nil.
	Pending(ctx context.Context, key uint64) (*Job, error)
}

func checkFinish(job *Job, state State) error {
	if job == nil {
		return fmt.Errorf("%w: nil job", ErrInvalidState)
	}
	if state != StateDelivered && state != StateFailed {
		return fmt.Errorf("%w: finish with %s", ErrInvalidState, state)
	}
	if !job.State.CanTransition(state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, job.State, state)
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"taskminder/internal/clock"
	"taskminder/internal/logger"
	"taskminder/internal/metrics"
	"taskminder/internal/notify"

	"golang.org/x/time/rate"
)

// Worker is the dispatcher: it pulls due jobs from the Store and hands their
// payload to the Notifier. It is the only component that calls the Notifier.
type Worker struct {
	ID       string
	Store    Store
	Notifier notify.Notifier
	Clock    clock.Clock
	Log      *logger.Logger
	Metrics  *metrics.Metrics

	// Limiter throttles Notifier calls across all loops. Nil means unlimited.
	Limiter *rate.Limiter

	Interval      time.Duration
	Concurrency   int
	NotifyTimeout time.Duration

	// Wake triggers an immediate poll (see Listener). Optional.
	Wake <-chan struct{}
}

// Outcome is the terminal result of one dispatched job.
type Outcome struct {
	Job   *Job
	State State
	Err   error
}

func (w *Worker) Run(ctx context.Context) {
	n := w.Concurrency
	if n < 1 {
		n = 1
	}
	w.log().Infow("dispatcher started", "worker", w.ID, "loops", n, "interval", w.interval())

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
	w.log().Infow("dispatcher stopped", "worker", w.ID)
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if err := w.Drain(ctx); err != nil && ctx.Err() == nil {
			failures++
			wait := backoff(failures)
			w.log().Warnw("take due job failed", "worker", w.ID, "error", err, "attempt", failures, "retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}
		failures = 0

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.Wake:
		}
	}
}

// Drain processes due jobs until none is left.
func (w *Worker) Drain(ctx context.Context) error {
	for ctx.Err() == nil {
		_, ok, err := w.ProcessOne(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	return nil
}

// ProcessOne takes at most one due job and drives it to a terminal state.
// ok is false when no job was due. A non-nil error means the store could not
// be read, or ctx ended while waiting on the Limiter; notification failures
// are reported in the Outcome instead.
func (w *Worker) ProcessOne(ctx context.Context) (Outcome, bool, error) {
	job, err := w.Store.TakeDue(ctx, w.ID)
	if err != nil {
		return Outcome{}, false, err
	}
	if job == nil {
		return Outcome{}, false, nil
	}
	lag := w.now().Sub(job.FireAt)
	log := w.log().WithFields("worker", w.ID, "job_id", job.ID, "task_id", job.TaskID)

	if w.Limiter != nil {
		if err := w.Limiter.Wait(ctx); err != nil {
			// left IN_FLIGHT; the store lease returns it to PENDING
			return Outcome{Job: job, State: StateInFlight, Err: err}, true, ctx.Err()
		}
	}

	out := Outcome{Job: job, State: StateDelivered}
	if err := w.deliver(ctx, job); err != nil {
		out.State = StateFailed
		out.Err = err
		log.Warnw("reminder failed", "error", err)
	} else {
		log.Infow("reminder delivered", "to", job.Payload.Recipient, "lag", lag)
	}

	if err := w.Store.Finish(context.WithoutCancel(ctx), job, out.State); err != nil {
		// the job stays IN_FLIGHT until its lease expires and may be delivered again
		log.Errorw("finish job failed", "state", out.State, "error", err)
	}
	w.Metrics.Dispatched(string(out.State), lag.Seconds())
	return out, true, nil
}

func (w *Worker) deliver(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", notify.ErrNotificationFailed, r)
		}
	}()

	nctx := ctx
	if w.NotifyTimeout > 0 {
		var cancel context.CancelFunc
		nctx, cancel = context.WithTimeout(ctx, w.NotifyTimeout)
		defer cancel()
	}

	p := job.Payload
	if err := w.Notifier.Notify(nctx, p.Recipient, p.Subject, p.Body); err != nil {
		if errors.Is(err, notify.ErrNotificationFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", notify.ErrNotificationFailed, err)
	}
	return nil
}

func (w *Worker) now() time.Time {
	if w.Clock == nil {
		return time.Now()
	}
	return w.Clock.Now()
}

func (w *Worker) log() *logger.Logger {
	if w.Log == nil {
		return logger.Nop()
	}
	return w.Log
}

func (w *Worker) interval() time.Duration {
	if w.Interval <= 0 {
		return 800 * time.Millisecond
	}
	return w.Interval
}

// backoff grows 2^attempts seconds, capped at one minute.
func backoff(attempts int) time.Duration {
	sec := math.Min(math.Pow(2, float64(attempts)), 60)
	return time.Duration(sec) * time.Second
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

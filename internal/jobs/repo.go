package jobs

import (
	"context"
	"errors"
	"strconv"
	"time"

	"taskminder/internal/clock"

	"gorm.io/gorm"
)

// NotifyChannel is the Postgres channel signalled on every insert.
const NotifyChannel = "reminder_jobs"

// Repo is the Postgres-backed Store. Key uniqueness is enforced by the partial
// unique index uq_reminder_jobs_pending (see db.AutoMigrateAndIndexes); the DB
// must be opened with TranslateError so duplicates surface as gorm.ErrDuplicatedKey.
type Repo struct {
	DB    *gorm.DB
	Clock clock.Clock

	// Lease is how long a job may stay IN_FLIGHT before another worker takes it again.
	// Zero disables reclaiming.
	Lease time.Duration

	// Channel receives pg_notify on insert when non-empty.
	Channel string
}

type txKey struct{}

// WithTx makes Insert, Cancel and Pending run inside tx, so job writes commit or
// roll back together with the caller's own writes. tx must be on the Repo's database.
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func (r *Repo) db(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return r.DB.WithContext(ctx)
}

func (r *Repo) now() time.Time {
	if r.Clock == nil {
		return time.Now()
	}
	return r.Clock.Now()
}

func (r *Repo) Insert(ctx context.Context, key uint64, delay time.Duration, p Payload) error {
	now := r.now()
	j := Job{
		TaskID:    key,
		Payload:   p,
		FireAt:    now.Add(delay),
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// a savepoint when ctx carries a transaction, so a duplicate does not abort it
	err := r.db(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&j).Error; err != nil {
			return err
		}
		if r.Channel == "" {
			return nil
		}
		// delivered on commit
		return tx.Exec(`select pg_notify(?, ?)`, r.Channel, strconv.FormatUint(key, 10)).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (r *Repo) Cancel(ctx context.Context, key uint64) (bool, error) {
	res := r.db(ctx).
		Exec(`delete from reminder_jobs where task_id = ? and state = ?`, key, string(StatePending))
	if res.Error != nil {
		return false, unavailable(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// TakeDue claims one due job atomically using SKIP LOCKED, so concurrent
// workers never claim the same row and a racing Cancel either deletes the row
// first or finds it IN_FLIGHT and leaves it alone.
func (r *Repo) TakeDue(ctx context.Context, workerID string) (*Job, error) {
	now := r.now()

	var job Job
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.reclaim(tx, now); err != nil {
			return err
		}

		return tx.Raw(`
with cte as (
  select id
  from reminder_jobs
  where state = ? and fire_at <= ?
  order by fire_at asc, id asc
  limit 1
  for update skip locked
)
update reminder_jobs
set state = ?, locked_by = ?, locked_at = ?, updated_at = ?
where id in (select id from cte)
returning *;
`, string(StatePending), now, string(StateInFlight), workerID, now, now).Scan(&job).Error
	})
	if err != nil {
		return nil, unavailable(err)
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

// reclaim returns jobs whose worker lease expired to PENDING. A stale job is
// dropped instead when a newer job for the same task exists, which keeps the
// one-pending-job-per-task index intact.
func (r *Repo) reclaim(tx *gorm.DB, now time.Time) error {
	if r.Lease <= 0 {
		return nil
	}
	cutoff := now.Add(-r.Lease)

	if err := tx.Exec(`
delete from reminder_jobs s
where s.state = ? and s.locked_at < ?
  and exists (
    select 1 from reminder_jobs o
    where o.task_id = s.task_id and o.id <> s.id
      and (o.state = ? or o.id > s.id)
  )
`, string(StateInFlight), cutoff, string(StatePending)).Error; err != nil {
		return err
	}

	return tx.Exec(`
update reminder_jobs
set state = ?, locked_by = null, locked_at = null, updated_at = ?
where state = ? and locked_at < ?
`, string(StatePending), now, string(StateInFlight), cutoff).Error
}

// Finish removes the in-flight job. If its lease already expired and another
// worker reclaimed it, nothing is deleted and the job will be delivered again.
func (r *Repo) Finish(ctx context.Context, job *Job, state State) error {
	if err := checkFinish(job, state); err != nil {
		return err
	}
	err := r.DB.WithContext(ctx).
		Exec(`delete from reminder_jobs where id = ? and state = ?`, job.ID, string(StateInFlight)).Error
	if err != nil {
		return unavailable(err)
	}
	job.State = state
	return nil
}

func (r *Repo) Pending(ctx context.Context, key uint64) (*Job, error) {
	var job Job
	err := r.db(ctx).
		Where("task_id = ? AND state = ?", key, string(StatePending)).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return &job, nil
}

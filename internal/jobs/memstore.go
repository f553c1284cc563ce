package jobs

import (
	"context"
	"sync"
	"time"

	"taskminder/internal/clock"
)

// MemStore is an in-process Store. It honours the same contract as Repo but
// does not survive a restart; use it for tests and single-process development.
type MemStore struct {
	mu    sync.Mutex
	clock clock.Clock
	lease time.Duration

	seq     uint64
	jobs    map[uint64]*Job   // id -> job, PENDING or IN_FLIGHT
	pending map[uint64]uint64 // task id -> job id
}

func NewMemStore(c clock.Clock, lease time.Duration) *MemStore {
	if c == nil {
		c = clock.Real{}
	}
	return &MemStore{
		clock:   c,
		lease:   lease,
		jobs:    make(map[uint64]*Job),
		pending: make(map[uint64]uint64),
	}
}

func (s *MemStore) Insert(_ context.Context, key uint64, delay time.Duration, p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[key]; ok {
		return ErrDuplicateKey
	}
	now := s.clock.Now()
	s.seq++
	s.jobs[s.seq] = &Job{
		ID:        s.seq,
		TaskID:    key,
		Payload:   p,
		FireAt:    now.Add(delay),
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.pending[key] = s.seq
	return nil
}

func (s *MemStore) Cancel(_ context.Context, key uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.pending[key]
	if !ok {
		return false, nil
	}
	delete(s.jobs, id)
	delete(s.pending, key)
	return true, nil
}

func (s *MemStore) TakeDue(_ context.Context, workerID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.reclaim(now)

	var next *Job
	for _, id := range s.pending {
		j := s.jobs[id]
		if j.FireAt.After(now) {
			continue
		}
		if next == nil || j.FireAt.Before(next.FireAt) || (j.FireAt.Equal(next.FireAt) && j.ID < next.ID) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}

	delete(s.pending, next.TaskID)
	next.State = StateInFlight
	next.LockedBy = &workerID
	lockedAt := now
	next.LockedAt = &lockedAt
	next.UpdatedAt = now

	out := *next
	return &out, nil
}

func (s *MemStore) reclaim(now time.Time) {
	if s.lease <= 0 {
		return
	}
	cutoff := now.Add(-s.lease)

	for _, j := range s.jobs {
		if j.State != StateInFlight || j.LockedAt == nil || !j.LockedAt.Before(cutoff) {
			continue
		}
		// a newer job for the same task supersedes the stale one, as in Repo.reclaim
		newer := false
		for _, o := range s.jobs {
			if o.TaskID == j.TaskID && o.ID > j.ID {
				newer = true
				break
			}
		}
		if _, hasPending := s.pending[j.TaskID]; hasPending || newer {
			delete(s.jobs, j.ID)
			continue
		}
		j.State = StatePending
		j.LockedBy = nil
		j.LockedAt = nil
		j.UpdatedAt = now
		s.pending[j.TaskID] = j.ID
	}
}

func (s *MemStore) Finish(_ context.Context, job *Job, state State) error {
	if err := checkFinish(job, state); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.jobs[job.ID]; ok && cur.State == StateInFlight {
		delete(s.jobs, job.ID)
	}
	job.State = state
	return nil
}

func (s *MemStore) Pending(_ context.Context, key uint64) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.pending[key]
	if !ok {
		return nil, nil
	}
	out := *s.jobs[id]
	return &out, nil
}

// Len reports jobs still held by the store, pending and in flight.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

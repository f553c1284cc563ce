package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskminder/internal/clock"
)

var t0 = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func payload(to string) Payload {
	return Payload{Recipient: to, Subject: "s", Body: "b"}
}

func TestMemStoreInsertDuplicateKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore(clock.NewFake(t0), 0)

	if err := s.Insert(ctx, 1, time.Hour, payload("a")); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if err := s.Insert(ctx, 1, 2*time.Hour, payload("a")); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("second Insert err = %v, want ErrDuplicateKey", err)
	}
	if err := s.Insert(ctx, 2, time.Hour, payload("b")); err != nil {
		t.Fatalf("Insert for other key error: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
}

func TestMemStoreCancelIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore(clock.NewFake(t0), 0)

	if removed, err := s.Cancel(ctx, 7); err != nil || removed {
		t.Fatalf("Cancel of absent key = %v, %v", removed, err)
	}
	if err := s.Insert(ctx, 7, time.Minute, payload("a")); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	for i, want := range []bool{true, false} {
		if removed, err := s.Cancel(ctx, 7); err != nil || removed != want {
			t.Fatalf("Cancel #%d = %v, %v; want %v", i+1, removed, err, want)
		}
	}
	if j, _ := s.Pending(ctx, 7); j != nil {
		t.Fatalf("job still pending after cancel: %+v", j)
	}
	if err := s.Insert(ctx, 7, time.Minute, payload("a")); err != nil {
		t.Fatalf("Insert after cancel error: %v", err)
	}
}

func TestMemStoreTakeDueRespectsFireAt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := clock.NewFake(t0)
	s := NewMemStore(c, 0)

	_ = s.Insert(ctx, 1, 10*time.Minute, payload("late"))
	_ = s.Insert(ctx, 2, 5*time.Minute, payload("early"))

	if j, err := s.TakeDue(ctx, "w"); err != nil || j != nil {
		t.Fatalf("TakeDue before fire time = %+v, %v; want nil", j, err)
	}

	c.Advance(5 * time.Minute)
	j, err := s.TakeDue(ctx, "w")
	if err != nil || j == nil {
		t.Fatalf("TakeDue = %+v, %v; want job", j, err)
	}
	if j.TaskID != 2 || j.State != StateInFlight {
		t.Fatalf("took task %d in %s, want task 2 IN_FLIGHT", j.TaskID, j.State)
	}
	if j.FireAt.After(c.Now()) {
		t.Fatalf("TakeDue returned job firing at %v after now %v", j.FireAt, c.Now())
	}
	if j2, _ := s.TakeDue(ctx, "w"); j2 != nil {
		t.Fatalf("second TakeDue returned %+v, want nil", j2)
	}

	c.Advance(5 * time.Minute)
	j, _ = s.TakeDue(ctx, "w")
	if j == nil || j.TaskID != 1 {
		t.Fatalf("TakeDue = %+v, want task 1", j)
	}
}

func TestMemStoreCancelAfterTakeIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := clock.NewFake(t0)
	s := NewMemStore(c, 0)

	_ = s.Insert(ctx, 3, time.Second, payload("a"))
	c.Advance(time.Second)
	j, _ := s.TakeDue(ctx, "w")
	if j == nil {
		t.Fatal("expected due job")
	}

	if removed, err := s.Cancel(ctx, 3); err != nil || removed {
		t.Fatalf("Cancel = %v, %v; want no-op", removed, err)
	}
	if s.Len() != 1 {
		t.Fatalf("in-flight job removed by cancel, Len = %d", s.Len())
	}
	// the key is free again while the old job is in flight
	if err := s.Insert(ctx, 3, time.Hour, payload("a")); err != nil {
		t.Fatalf("Insert while in flight error: %v", err)
	}

	if err := s.Finish(ctx, j, StateDelivered); err != nil {
		t.Fatalf("Finish error: %v", err)
	}
	if j.State != StateDelivered {
		t.Fatalf("State = %s, want DELIVERED", j.State)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want only the new pending job", s.Len())
	}
}

func TestMemStoreFinishRejectsBadTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := clock.NewFake(t0)
	s := NewMemStore(c, 0)

	_ = s.Insert(ctx, 1, 0, payload("a"))
	pending, _ := s.Pending(ctx, 1)
	if err := s.Finish(ctx, pending, StateDelivered); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Finish of pending job err = %v, want ErrInvalidState", err)
	}

	j, _ := s.TakeDue(ctx, "w")
	if err := s.Finish(ctx, j, StateCanceled); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Finish with CANCELED err = %v, want ErrInvalidState", err)
	}
	if err := s.Finish(ctx, j, StateFailed); err != nil {
		t.Fatalf("Finish FAILED error: %v", err)
	}
	if err := s.Finish(ctx, j, StateDelivered); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Finish of terminal job err = %v, want ErrInvalidState", err)
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
}

func TestMemStoreReclaimsExpiredLease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := clock.NewFake(t0)
	s := NewMemStore(c, time.Minute)

	_ = s.Insert(ctx, 1, 0, payload("a"))
	first, _ := s.TakeDue(ctx, "crashed")
	if first == nil {
		t.Fatal("expected due job")
	}

	c.Advance(30 * time.Second)
	if j, _ := s.TakeDue(ctx, "w2"); j != nil {
		t.Fatalf("job reclaimed before lease expired: %+v", j)
	}

	c.Advance(time.Minute)
	again, _ := s.TakeDue(ctx, "w2")
	if again == nil || again.ID != first.ID {
		t.Fatalf("TakeDue after lease = %+v, want job %d again", again, first.ID)
	}
	if *again.LockedBy != "w2" {
		t.Fatalf("LockedBy = %s, want w2", *again.LockedBy)
	}
}

func TestMemStoreReclaimDropsSupersededJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := clock.NewFake(t0)
	s := NewMemStore(c, time.Minute)

	_ = s.Insert(ctx, 1, 0, payload("old"))
	if j, _ := s.TakeDue(ctx, "crashed"); j == nil {
		t.Fatal("expected due job")
	}
	_ = s.Insert(ctx, 1, time.Hour, payload("new"))

	c.Advance(2 * time.Minute)
	if j, _ := s.TakeDue(ctx, "w2"); j != nil {
		t.Fatalf("TakeDue = %+v, want nil", j)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	p, _ := s.Pending(ctx, 1)
	if p == nil || p.Payload.Recipient != "new" {
		t.Fatalf("Pending = %+v, want the replacement job", p)
	}
}

func TestMemStoreConcurrentTakeDue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := clock.NewFake(t0)
	s := NewMemStore(c, 0)

	const n = 50
	for i := uint64(1); i <= n; i++ {
		_ = s.Insert(ctx, i, 0, payload("a"))
	}

	var (
		mu   sync.Mutex
		seen = map[uint64]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, _ := s.TakeDue(ctx, "w")
				if j == nil {
					return
				}
				mu.Lock()
				seen[j.TaskID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("took %d distinct jobs, want %d", len(seen), n)
	}
	for k, v := range seen {
		if v != 1 {
			t.Fatalf("job for task %d taken %d times", k, v)
		}
	}
}

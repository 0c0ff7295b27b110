// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danielhkuo/livepoll/models"
	"github.com/danielhkuo/livepoll/testutil"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestQueue(t *testing.T) (*Queue, *fakeClock) {
	t.Helper()
	conn := testutil.SetupTestDB(t)
	q, err := New(conn, testutil.Dialect(), Options{
		MaxAttempts:  3,
		BackoffBase:  time.Second,
		BackoffMax:   10 * time.Second,
		LockDuration: 30 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	clock := &fakeClock{t: time.Now()}
	q.now = clock.Now
	return q, clock
}

func vote(voter string) models.VoteJob {
	return models.VoteJob{QuestionID: "q1", OptionID: "o1", Identifier: voter}
}

func TestNew_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"zero attempts", Options{BackoffBase: time.Second, BackoffMax: time.Second, LockDuration: time.Second}},
		{"zero backoff", Options{MaxAttempts: 1, BackoffMax: time.Second, LockDuration: time.Second}},
		{"max below base", Options{MaxAttempts: 1, BackoffBase: time.Second, BackoffMax: time.Millisecond, LockDuration: time.Second}},
		{"zero lock", Options{MaxAttempts: 1, BackoffBase: time.Second, BackoffMax: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(nil, "", tt.opts); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("expected ErrInvalidOptions, got %v", err)
			}
		})
	}
}

func TestEnqueue_Dedup(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, vote("v1"))
	if err != nil {
		t.Fatal(err)
	}
	if first.Duplicate || first.ID == "" {
		t.Fatalf("expected a new job, got %+v", first)
	}

	second, err := q.Enqueue(ctx, vote("v1"))
	if err != nil {
		t.Fatal(err)
	}
	if !second.Duplicate || second.ID != first.ID {
		t.Errorf("expected duplicate of %s, got %+v", first.ID, second)
	}

	// Same voter, different question is a different key.
	other := vote("v1")
	other.QuestionID = "q2"
	third, err := q.Enqueue(ctx, other)
	if err != nil {
		t.Fatal(err)
	}
	if third.Duplicate {
		t.Errorf("different question must not be deduplicated")
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Waiting != 2 {
		t.Errorf("expected 2 waiting jobs, got %+v", stats)
	}
}

func TestEnqueue_DedupWhileActive(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first, _ := q.Enqueue(ctx, vote("v1"))
	if _, ok, err := q.Claim(ctx); err != nil || !ok {
		t.Fatalf("Claim() = %v, %v", ok, err)
	}

	again, err := q.Enqueue(ctx, vote("v1"))
	if err != nil {
		t.Fatal(err)
	}
	if !again.Duplicate || again.ID != first.ID {
		t.Errorf("in-flight job must absorb the enqueue, got %+v", again)
	}
}

func TestEnqueue_AfterCompletion(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first, _ := q.Enqueue(ctx, vote("v1"))
	job, _, _ := q.Claim(ctx)
	if err := q.Complete(ctx, job); err != nil {
		t.Fatal(err)
	}

	// Outside the dedup window the queue accepts the job again; the ledger
	// is what rejects it later.
	again, err := q.Enqueue(ctx, vote("v1"))
	if err != nil {
		t.Fatal(err)
	}
	if again.Duplicate || again.ID == first.ID {
		t.Errorf("expected a fresh job after completion, got %+v", again)
	}
}

func TestEnqueue_Wakes(t *testing.T) {
	q, _ := newTestQueue(t)

	if _, err := q.Enqueue(context.Background(), vote("v1")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-q.Wake():
	default:
		t.Error("expected a wake signal after enqueue")
	}
}

func TestClaim(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, ok, err := q.Claim(ctx); err != nil || ok {
		t.Fatalf("empty queue: Claim() = %v, %v", ok, err)
	}

	enq, _ := q.Enqueue(ctx, vote("v1"))
	job, ok, err := q.Claim(ctx)
	if err != nil || !ok {
		t.Fatalf("Claim() = %v, %v", ok, err)
	}
	if job.ID != enq.ID || job.State != models.JobActive || job.Attempts != 1 {
		t.Errorf("unexpected claimed job: %+v", job)
	}
	if job.Vote.Identifier != "v1" || job.Vote.QuestionID != "q1" || job.Vote.OptionID != "o1" {
		t.Errorf("vote payload lost: %+v", job.Vote)
	}
	if job.LockedUntil == nil {
		t.Error("claimed job must carry a lock")
	}

	if _, ok, _ := q.Claim(ctx); ok {
		t.Error("locked job must not be claimed twice")
	}
}

func TestClaim_RedeliversExpiredLock(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, vote("v1"))
	first, _, _ := q.Claim(ctx)

	clock.Advance(31 * time.Second)

	second, ok, err := q.Claim(ctx)
	if err != nil || !ok {
		t.Fatalf("expected redelivery, got %v, %v", ok, err)
	}
	if second.ID != first.ID || second.Attempts != 2 {
		t.Errorf("expected same job on attempt 2, got %+v", second)
	}
}

func TestClaim_DeadLettersStalledJob(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	enq, _ := q.Enqueue(ctx, vote("v1"))

	// A worker that dies on every delivery never calls Complete or Fail.
	claims := 0
	for round := 0; round < 10; round++ {
		if _, ok, err := q.Claim(ctx); err != nil {
			t.Fatalf("round %d: Claim() error = %v", round, err)
		} else if ok {
			claims++
		}
		clock.Advance(31 * time.Second)
	}

	if claims != 3 {
		t.Errorf("expected 3 deliveries, got %d", claims)
	}
	job, err := q.Get(ctx, enq.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != models.JobDead || job.LastError != StalledError {
		t.Errorf("expected dead with %q, got %s with %q", StalledError, job.State, job.LastError)
	}
	if job.Attempts != 3 || job.LockedUntil != nil || job.FinishedAt == nil {
		t.Errorf("unexpected stalled job: %+v", job)
	}

	stats, _ := q.Stats(ctx)
	if stats.Dead != 1 || stats.Active != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestClaim_ExpiredLockUnderBudgetIsReclaimed(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, vote("v1"))
	q.Claim(ctx)
	clock.Advance(31 * time.Second)

	job, ok, err := q.Claim(ctx)
	if err != nil || !ok {
		t.Fatalf("Claim() = %v, %v", ok, err)
	}
	if job.State != models.JobActive || job.LastError != "" {
		t.Errorf("job under its attempt budget must not be dead-lettered: %+v", job)
	}
}

func TestComplete_StaleClaim(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, vote("v1"))
	stale, _, _ := q.Claim(ctx)
	clock.Advance(31 * time.Second)
	current, ok, err := q.Claim(ctx)
	if err != nil || !ok {
		t.Fatalf("Claim() = %v, %v", ok, err)
	}

	if err := q.Complete(ctx, stale); !errors.Is(err, ErrLockLost) {
		t.Errorf("stale complete: expected ErrLockLost, got %v", err)
	}
	if _, err := q.Fail(ctx, stale, errors.New("late failure")); !errors.Is(err, ErrLockLost) {
		t.Errorf("stale fail: expected ErrLockLost, got %v", err)
	}

	stored, err := q.Get(ctx, current.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != models.JobActive || stored.Attempts != 2 || stored.LastError != "" {
		t.Errorf("stale worker changed the job: %+v", stored)
	}
	if stored.LockedUntil == nil || !stored.LockedUntil.Equal(*current.LockedUntil) {
		t.Errorf("expected lock %v, got %v", current.LockedUntil, stored.LockedUntil)
	}

	if err := q.Complete(ctx, current); err != nil {
		t.Errorf("current complete: %v", err)
	}
}

func TestComplete_Unclaimed(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	enq, _ := q.Enqueue(ctx, vote("v1"))
	job, err := q.Get(ctx, enq.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Complete(ctx, job); !errors.Is(err, ErrLockLost) {
		t.Errorf("expected ErrLockLost for an unclaimed job, got %v", err)
	}
}

func TestComplete(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, vote("v1"))
	job, _, _ := q.Claim(ctx)

	if err := q.Complete(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := q.Complete(ctx, job); !errors.Is(err, ErrLockLost) {
		t.Errorf("second complete: expected ErrLockLost, got %v", err)
	}

	stored, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != models.JobCompleted || stored.FinishedAt == nil {
		t.Errorf("unexpected completed job: %+v", stored)
	}
	if _, ok, _ := q.Claim(ctx); ok {
		t.Error("completed job must never be redelivered")
	}
}

func TestFail_RetriesWithBackoff(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, vote("v1"))
	job, _, _ := q.Claim(ctx)

	dead, err := q.Fail(ctx, job, errors.New("deadlock"))
	if err != nil || dead {
		t.Fatalf("Fail() = %v, %v", dead, err)
	}

	stored, _ := q.Get(ctx, job.ID)
	if stored.State != models.JobWaiting || stored.LastError != "deadlock" {
		t.Errorf("unexpected failed job: %+v", stored)
	}

	if _, ok, _ := q.Claim(ctx); ok {
		t.Error("job must wait out its backoff")
	}

	clock.Advance(time.Second)
	retried, ok, err := q.Claim(ctx)
	if err != nil || !ok {
		t.Fatalf("expected retry after backoff, got %v, %v", ok, err)
	}
	if retried.Attempts != 2 {
		t.Errorf("expected attempt 2, got %d", retried.Attempts)
	}
}

func TestFail_DeadLetter(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	enq, _ := q.Enqueue(ctx, vote("v1"))
	for attempt := 1; attempt <= 3; attempt++ {
		job, ok, err := q.Claim(ctx)
		if err != nil || !ok {
			t.Fatalf("attempt %d: Claim() = %v, %v", attempt, ok, err)
		}
		dead, err := q.Fail(ctx, job, fmt.Errorf("boom %d", attempt))
		if err != nil {
			t.Fatal(err)
		}
		if dead != (attempt == 3) {
			t.Errorf("attempt %d: dead = %v", attempt, dead)
		}
		clock.Advance(time.Minute)
	}

	if _, ok, _ := q.Claim(ctx); ok {
		t.Error("dead job must not be delivered")
	}

	deadJobs, err := q.ListDead(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(deadJobs) != 1 || deadJobs[0].ID != enq.ID || deadJobs[0].LastError != "boom 3" {
		t.Fatalf("unexpected dead jobs: %+v", deadJobs)
	}

	stats, _ := q.Stats(ctx)
	if stats.Dead != 1 || stats.Waiting != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	// A dead job does not hold the dedup key.
	fresh, err := q.Enqueue(ctx, vote("v1"))
	if err != nil || fresh.Duplicate {
		t.Fatalf("expected new job next to dead one, got %+v, %v", fresh, err)
	}
	if err := q.RetryDead(ctx, enq.ID); !errors.Is(err, ErrPendingExists) {
		t.Errorf("expected ErrPendingExists, got %v", err)
	}
}

func TestRetryDead(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	enq, _ := q.Enqueue(ctx, vote("v1"))
	for i := 0; i < 3; i++ {
		job, _, _ := q.Claim(ctx)
		q.Fail(ctx, job, errors.New("boom"))
		clock.Advance(time.Minute)
	}

	if err := q.RetryDead(ctx, enq.ID); err != nil {
		t.Fatalf("RetryDead() error = %v", err)
	}
	if err := q.RetryDead(ctx, enq.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("retrying a waiting job: expected ErrJobNotFound, got %v", err)
	}

	job, ok, err := q.Claim(ctx)
	if err != nil || !ok {
		t.Fatalf("expected requeued job, got %v, %v", ok, err)
	}
	if job.ID != enq.ID || job.Attempts != 1 {
		t.Errorf("expected fresh attempt budget, got %+v", job)
	}
}

func TestPrune(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, vote("done"))
	job, _, _ := q.Claim(ctx)
	q.Complete(ctx, job)

	q.Enqueue(ctx, vote("pending"))

	if n, err := q.Prune(ctx, time.Hour); err != nil || n != 0 {
		t.Errorf("fresh completed job pruned: %d, %v", n, err)
	}

	clock.Advance(2 * time.Hour)
	n, err := q.Prune(ctx, time.Hour)
	if err != nil || n != 1 {
		t.Errorf("Prune() = %d, %v; want 1", n, err)
	}

	stats, _ := q.Stats(ctx)
	if stats.Completed != 0 || stats.Waiting != 1 {
		t.Errorf("unexpected stats after prune: %+v", stats)
	}
}

func TestBackoff(t *testing.T) {
	q, _ := newTestQueue(t)

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := q.Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.attempts, got, tt.want)
		}
	}
}

func TestClaim_ConcurrentWorkers(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	const jobs = 40
	for i := 0; i < jobs; i++ {
		if _, err := q.Enqueue(ctx, vote(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, ok, err := q.Claim(ctx)
				if err != nil {
					t.Errorf("Claim() error = %v", err)
					return
				}
				if !ok {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
				if err := q.Complete(ctx, job); err != nil {
					t.Errorf("Complete() error = %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobs {
		t.Errorf("expected %d distinct jobs claimed, got %d", jobs, len(claimed))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("job %s claimed %d times", id, n)
		}
	}
}

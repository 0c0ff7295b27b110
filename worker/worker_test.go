// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielhkuo/livepoll/ballot"
	"github.com/danielhkuo/livepoll/models"
	"github.com/danielhkuo/livepoll/notify"
	"github.com/danielhkuo/livepoll/queue"
	"github.com/danielhkuo/livepoll/testutil"
)

// recordingBus keeps every published payload.
type recordingBus struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (b *recordingBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if topic == notify.TopicSessionUpdates {
		b.payloads = append(b.payloads, payload)
	}
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) joinCodes(t *testing.T) []string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var codes []string
	for _, p := range b.payloads {
		n, err := notify.DecodeChange(p)
		if err != nil {
			t.Fatalf("bad payload %s: %v", p, err)
		}
		codes = append(codes, n.JoinCode)
	}
	return codes
}

// flakyStore fails the first failures calls, then delegates.
type flakyStore struct {
	next     VoteApplier
	failures int32
	calls    atomic.Int32
}

func (s *flakyStore) ApplyVote(ctx context.Context, job models.VoteJob) (ballot.Outcome, error) {
	if s.calls.Add(1) <= s.failures {
		return ballot.Outcome{}, errors.New("transient storage failure")
	}
	return s.next.ApplyVote(ctx, job)
}

// stuckStore holds every vote until its context ends.
type stuckStore struct{}

func (stuckStore) ApplyVote(ctx context.Context, _ models.VoteJob) (ballot.Outcome, error) {
	<-ctx.Done()
	return ballot.Outcome{}, ctx.Err()
}

type harness struct {
	conn  *sql.DB
	store *ballot.Store
	queue *queue.Queue
	bus   *recordingBus
	f     testutil.SessionFixture
}

func newHarness(t *testing.T, joinCode string) *harness {
	t.Helper()
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	q, err := queue.New(conn, testutil.Dialect(), queue.Options{
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		BackoffBase:  cfg.Pipeline.BackoffBase,
		BackoffMax:   cfg.Pipeline.BackoffMax,
		LockDuration: cfg.Pipeline.LockDuration,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &harness{
		conn:  conn,
		store: ballot.NewStore(conn),
		queue: q,
		bus:   &recordingBus{},
		f:     testutil.CreateTestSession(t, conn, cfg, joinCode, models.StatusActive),
	}
}

func (h *harness) job(voter string) models.Job {
	return models.Job{
		ID:   "job-" + voter,
		Vote: models.VoteJob{QuestionID: h.f.QuestionIDs[0], OptionID: h.f.OptionIDs[0][0], Identifier: voter},
	}
}

func (h *harness) runPool(t *testing.T, store VoteApplier) (context.CancelFunc, chan struct{}) {
	t.Helper()
	proc := NewProcessor(store, h.bus, time.Second, nil)
	pool := NewPool(h.queue, proc, testutil.FastPipeline(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()
	return cancel, done
}

func TestProcess_ConcurrentIdenticalJobs(t *testing.T) {
	h := newHarness(t, "SAME23")
	proc := NewProcessor(h.store, h.bus, 5*time.Second, nil)

	const n = 25
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := proc.Process(context.Background(), h.job("v1")); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Errorf("expected no failures, got %d", failures.Load())
	}
	if got := testutil.VoteCount(t, h.conn, h.f.OptionIDs[0][0]); got != 1 {
		t.Errorf("expected count 1 after %d identical jobs, got %d", n, got)
	}
	if got := testutil.LedgerCount(t, h.conn, "v1", h.f.QuestionIDs[0]); got != 1 {
		t.Errorf("expected one ledger row, got %d", got)
	}
	if codes := h.bus.joinCodes(t); len(codes) != 1 {
		t.Errorf("expected exactly one notification, got %d", len(codes))
	}
}

func TestProcess_ReplayIsIdempotent(t *testing.T) {
	once := newHarness(t, "ONE234")
	many := newHarness(t, "MANY23")

	procOnce := NewProcessor(once.store, once.bus, 5*time.Second, nil)
	if err := procOnce.Process(context.Background(), once.job("v1")); err != nil {
		t.Fatal(err)
	}

	procMany := NewProcessor(many.store, many.bus, 5*time.Second, nil)
	for i := 0; i < 100; i++ {
		if err := procMany.Process(context.Background(), many.job("v1")); err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
	}

	a := testutil.VoteCount(t, once.conn, once.f.OptionIDs[0][0])
	b := testutil.VoteCount(t, many.conn, many.f.OptionIDs[0][0])
	if a != 1 || b != 1 {
		t.Errorf("expected identical state, got %d after 1 run and %d after 100", a, b)
	}
	if len(many.bus.joinCodes(t)) != 1 {
		t.Errorf("replays must not notify again")
	}
}

func TestProcess_NotificationCarriesJoinCode(t *testing.T) {
	h := newHarness(t, "NOTE23")
	proc := NewProcessor(h.store, h.bus, 5*time.Second, nil)

	if err := proc.Process(context.Background(), h.job("v1")); err != nil {
		t.Fatal(err)
	}
	codes := h.bus.joinCodes(t)
	if len(codes) != 1 || codes[0] != "NOTE23" {
		t.Errorf("expected [NOTE23], got %v", codes)
	}
}

func TestProcess_RolledBackVoteDoesNotNotify(t *testing.T) {
	h := newHarness(t, "ROLL23")
	proc := NewProcessor(h.store, h.bus, 5*time.Second, nil)

	job := h.job("v1")
	job.Vote.OptionID = h.f.OptionIDs[1][0] // belongs to the second question
	if err := proc.Process(context.Background(), job); !errors.Is(err, ballot.ErrOptionMismatch) {
		t.Fatalf("expected ErrOptionMismatch, got %v", err)
	}
	if len(h.bus.joinCodes(t)) != 0 {
		t.Error("rolled back vote must not notify")
	}
	if got := testutil.LedgerCount(t, h.conn, "v1", h.f.QuestionIDs[0]); got != 0 {
		t.Errorf("ledger row leaked: %d", got)
	}
}

func TestProcess_PublishFailureStillSucceeds(t *testing.T) {
	h := newHarness(t, "PUBF23")
	h.bus.err = errors.New("bus down")
	proc := NewProcessor(h.store, h.bus, 5*time.Second, nil)

	if err := proc.Process(context.Background(), h.job("v1")); err != nil {
		t.Errorf("publish failure must not fail the job, got %v", err)
	}
	if got := testutil.VoteCount(t, h.conn, h.f.OptionIDs[0][0]); got != 1 {
		t.Errorf("expected count 1, got %d", got)
	}
}

func TestProcess_TransactionTimeout(t *testing.T) {
	h := newHarness(t, "SLOW23")
	proc := NewProcessor(stuckStore{}, h.bus, 50*time.Millisecond, nil)

	start := time.Now()
	err := proc.Process(context.Background(), h.job("v1"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Process did not honour the timeout, took %v", elapsed)
	}
	if len(h.bus.joinCodes(t)) != 0 {
		t.Error("timed out vote must not notify")
	}
}

func TestProcessOne_TimeoutReschedules(t *testing.T) {
	h := newHarness(t, "TOUT23")
	ctx := context.Background()

	enq, err := h.queue.Enqueue(ctx, h.job("v1").Vote)
	if err != nil {
		t.Fatal(err)
	}

	proc := NewProcessor(stuckStore{}, h.bus, 50*time.Millisecond, nil)
	pool := NewPool(h.queue, proc, testutil.FastPipeline(), nil)

	processed, err := pool.ProcessOne(ctx)
	if err != nil || !processed {
		t.Fatalf("ProcessOne() = %v, %v", processed, err)
	}

	job, err := h.queue.Get(ctx, enq.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != models.JobWaiting || job.Attempts != 1 {
		t.Errorf("expected waiting after one attempt, got %s after %d", job.State, job.Attempts)
	}
	if job.LastError != context.DeadlineExceeded.Error() {
		t.Errorf("expected last error %q, got %q", context.DeadlineExceeded.Error(), job.LastError)
	}
	if job.LockedUntil != nil {
		t.Errorf("rescheduled job still locked until %v", job.LockedUntil)
	}
	if len(h.bus.joinCodes(t)) != 0 {
		t.Error("timed out vote must not notify")
	}
	if got := testutil.VoteCount(t, h.conn, h.f.OptionIDs[0][0]); got != 0 {
		t.Errorf("expected count 0, got %d", got)
	}
}

func TestPool_DistinctVoters(t *testing.T) {
	h := newHarness(t, "POOL23")
	ctx := context.Background()

	const voters = 30
	for i := 0; i < voters; i++ {
		vote := models.VoteJob{
			QuestionID: h.f.QuestionIDs[0],
			OptionID:   h.f.OptionIDs[0][i%2],
			Identifier: fmt.Sprintf("voter-%d", i),
		}
		if _, err := h.queue.Enqueue(ctx, vote); err != nil {
			t.Fatal(err)
		}
	}

	cancel, done := h.runPool(t, h.store)
	defer func() { cancel(); <-done }()

	testutil.Eventually(t, 10*time.Second, func() bool {
		stats, err := h.queue.Stats(ctx)
		return err == nil && stats.Completed == voters
	}, "all jobs completed")

	first := testutil.VoteCount(t, h.conn, h.f.OptionIDs[0][0])
	second := testutil.VoteCount(t, h.conn, h.f.OptionIDs[0][1])
	if first+second != voters || first != 15 {
		t.Errorf("expected 15/15, got %d/%d", first, second)
	}
	if got := len(h.bus.joinCodes(t)); got != voters {
		t.Errorf("expected %d notifications, got %d", voters, got)
	}
}

func TestPool_RetriesTransientFailure(t *testing.T) {
	h := newHarness(t, "FLKY23")
	ctx := context.Background()

	enq, err := h.queue.Enqueue(ctx, h.job("v1").Vote)
	if err != nil {
		t.Fatal(err)
	}

	store := &flakyStore{next: h.store, failures: 2}
	cancel, done := h.runPool(t, store)
	defer func() { cancel(); <-done }()

	testutil.Eventually(t, 10*time.Second, func() bool {
		job, err := h.queue.Get(ctx, enq.ID)
		return err == nil && job.State == models.JobCompleted
	}, "job completed after retries")

	job, _ := h.queue.Get(ctx, enq.ID)
	if job.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", job.Attempts)
	}
	if got := testutil.VoteCount(t, h.conn, h.f.OptionIDs[0][0]); got != 1 {
		t.Errorf("expected count 1, got %d", got)
	}
	if len(h.bus.joinCodes(t)) != 1 {
		t.Errorf("expected one notification")
	}
}

func TestPool_DeadLettersPermanentFailure(t *testing.T) {
	h := newHarness(t, "DEAD23")
	ctx := context.Background()

	vote := h.job("v1").Vote
	vote.OptionID = h.f.OptionIDs[1][0]
	enq, err := h.queue.Enqueue(ctx, vote)
	if err != nil {
		t.Fatal(err)
	}

	cancel, done := h.runPool(t, h.store)
	defer func() { cancel(); <-done }()

	testutil.Eventually(t, 10*time.Second, func() bool {
		job, err := h.queue.Get(ctx, enq.ID)
		return err == nil && job.State == models.JobDead
	}, "job dead-lettered")

	dead, err := h.queue.ListDead(ctx, 10)
	if err != nil || len(dead) != 1 {
		t.Fatalf("expected one dead job, got %v, %v", dead, err)
	}
	if dead[0].Attempts != testutil.FastPipeline().MaxAttempts || dead[0].LastError == "" {
		t.Errorf("unexpected dead job: %+v", dead[0])
	}
	if len(h.bus.joinCodes(t)) != 0 {
		t.Error("failed job must not notify")
	}
	for _, opts := range h.f.OptionIDs {
		for _, id := range opts {
			if got := testutil.VoteCount(t, h.conn, id); got != 0 {
				t.Errorf("option %s changed to %d", id, got)
			}
		}
	}
}

func TestPool_StopsOnCancel(t *testing.T) {
	h := newHarness(t, "STOP23")
	cancel, done := h.runPool(t, h.store)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}

func TestProcessOne_Empty(t *testing.T) {
	h := newHarness(t, "EMPT23")
	pool := NewPool(h.queue, NewProcessor(h.store, h.bus, time.Second, nil), testutil.FastPipeline(), nil)

	processed, err := pool.ProcessOne(context.Background())
	if err != nil || processed {
		t.Errorf("ProcessOne() on empty queue = %v, %v", processed, err)
	}
}

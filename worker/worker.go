// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/danielhkuo/livepoll/ballot"
	"github.com/danielhkuo/livepoll/cliparse"
	"github.com/danielhkuo/livepoll/models"
	"github.com/danielhkuo/livepoll/notify"
)

// defaultHousekeeping is how often the pool prunes completed jobs.
const defaultHousekeeping = time.Minute

// VoteApplier applies one vote atomically. *ballot.Store implements it.
type VoteApplier interface {
	ApplyVote(ctx context.Context, job models.VoteJob) (ballot.Outcome, error)
}

// JobQueue is the part of *queue.Queue the pool drives.
type JobQueue interface {
	Claim(ctx context.Context) (models.Job, bool, error)
	Complete(ctx context.Context, job models.Job) error
	Fail(ctx context.Context, job models.Job, cause error) (bool, error)
	Prune(ctx context.Context, retention time.Duration) (int64, error)
	Wake() <-chan struct{}
}

// Processor applies a single vote job and announces the change.
type Processor struct {
	store     VoteApplier
	bus       notify.Bus
	txTimeout time.Duration
	logger    *slog.Logger
}

func NewProcessor(store VoteApplier, bus notify.Bus, txTimeout time.Duration, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: store, bus: bus, txTimeout: txTimeout, logger: logger}
}

// Process applies the vote under the transaction timeout. A duplicate is a
// successful no-op. The change notification goes out only after the vote
// committed, and a failed publish does not fail the job.
func (p *Processor) Process(ctx context.Context, job models.Job) error {
	txCtx, cancel := context.WithTimeout(ctx, p.txTimeout)
	out, err := p.store.ApplyVote(txCtx, job.Vote)
	cancel()
	if err != nil {
		return err
	}

	if !out.Applied {
		p.logger.Debug("duplicate vote ignored",
			"event", "vote_job_duplicate",
			"module", "worker",
			"job_id", job.ID,
			"question_id", job.Vote.QuestionID,
		)
		return nil
	}

	if err := notify.PublishChange(ctx, p.bus, out.JoinCode); err != nil {
		p.logger.Warn("change notification publish failed",
			"event", "notification_publish_failed",
			"module", "worker",
			"job_id", job.ID,
			"join_code", out.JoinCode,
			"error", err.Error(),
		)
	}
	return nil
}

// Pool runs a fixed number of workers draining the queue.
type Pool struct {
	queue        JobQueue
	proc         *Processor
	concurrency  int
	pollInterval time.Duration
	retention    time.Duration
	housekeeping time.Duration
	logger       *slog.Logger
}

func NewPool(q JobQueue, proc *Processor, pipeline cliparse.Pipeline, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := pipeline.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		queue:        q,
		proc:         proc,
		concurrency:  concurrency,
		pollInterval: pipeline.PollInterval,
		retention:    pipeline.CompletedRetention,
		housekeeping: defaultHousekeeping,
		logger:       logger,
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs to
// finish. Jobs already claimed are never abandoned on shutdown.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("vote worker pool started",
		"event", "worker_pool_started",
		"module", "worker",
		"concurrency", p.concurrency,
	)

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	if p.retention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.housekeep(ctx)
		}()
	}
	wg.Wait()

	p.logger.Info("vote worker pool stopped",
		"event", "worker_pool_stopped",
		"module", "worker",
	)
	return nil
}

func (p *Pool) loop(ctx context.Context, id int) {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := p.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("vote job cycle failed",
				"event", "vote_job_cycle_failed",
				"module", "worker",
				"worker", id,
				"error", err.Error(),
			)
		}
		if processed {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.pollInterval)
		select {
		case <-ctx.Done():
			return
		case <-p.queue.Wake():
		case <-timer.C:
		}
	}
}

// ProcessOne claims and handles at most one job. It reports whether a job
// was claimed.
func (p *Pool) ProcessOne(ctx context.Context) (bool, error) {
	job, ok, err := p.queue.Claim(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	// Once claimed, a job runs to completion or failure even during
	// shutdown.
	work := context.WithoutCancel(ctx)

	if perr := p.proc.Process(work, job); perr != nil {
		dead, err := p.queue.Fail(work, job, perr)
		if err != nil {
			// The lock will expire and the job will be redelivered, unless
			// another worker already holds it (queue.ErrLockLost).
			return true, err
		}
		if !dead {
			p.logger.Warn("vote job failed",
				"event", "vote_job_failed",
				"module", "worker",
				"job_id", job.ID,
				"attempt", job.Attempts,
				"error", perr.Error(),
			)
		}
		return true, nil
	}

	if err := p.queue.Complete(work, job); err != nil {
		// Redelivery is harmless: the ledger absorbs the replay.
		return true, err
	}
	p.logger.Debug("vote job completed",
		"event", "vote_job_completed",
		"module", "worker",
		"job_id", job.ID,
		"attempt", job.Attempts,
	)
	return true, nil
}

func (p *Pool) housekeep(ctx context.Context) {
	ticker := time.NewTicker(p.housekeeping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.Prune(ctx, p.retention)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("vote job prune failed",
						"event", "vote_job_prune_failed",
						"module", "worker",
						"error", err.Error(),
					)
				}
				continue
			}
			if n > 0 {
				p.logger.Info("completed vote jobs pruned",
					"event", "vote_job_pruned",
					"module", "worker",
					"count", n,
				)
			}
		}
	}
}

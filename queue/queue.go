// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielhkuo/livepoll/db"
	"github.com/danielhkuo/livepoll/models"
	"github.com/google/uuid"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrPendingExists  = errors.New("a pending job with the same dedup key exists")
	ErrInvalidOptions = errors.New("invalid queue options")
	// ErrLockLost means the job's lock expired and another claim took it
	// over, or it was dead-lettered as stalled.
	ErrLockLost = errors.New("vote job lock lost")
)

// StalledError is the last_error recorded for a job whose lock expired once
// its attempts were spent.
const StalledError = "stalled"

// Options tune retry, backoff and redelivery.
type Options struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	LockDuration time.Duration
	Logger       *slog.Logger
}

// Queue is a durable vote job queue stored in the vote_job table.
//
// A job is waiting until a worker claims it, active while a worker holds its
// lock, and then either completed or dead. An active job whose lock expired
// is claimable again, which gives at-least-once delivery when a worker dies
// mid-job.
type Queue struct {
	db      *sql.DB
	dialect db.Dialect
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
	wake    chan struct{}
}

// Enqueued reports the outcome of Enqueue.
type Enqueued struct {
	ID string
	// Duplicate is true when a waiting or active job already held the dedup
	// key and nothing was inserted. ID is then the existing job, if it could
	// still be found.
	Duplicate bool
}

func New(conn *sql.DB, dialect db.Dialect, opts Options) (*Queue, error) {
	if opts.MaxAttempts < 1 || opts.BackoffBase <= 0 || opts.BackoffMax < opts.BackoffBase || opts.LockDuration <= 0 {
		return nil, ErrInvalidOptions
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		db:      conn,
		dialect: dialect,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}, nil
}

// Wake signals, within this process, that a job became claimable.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue persists a vote job unless one with the same dedup key is already
// waiting or active.
func (q *Queue) Enqueue(ctx context.Context, job models.VoteJob) (Enqueued, error) {
	id := uuid.NewString()
	now := db.ToMillis(q.now())
	key := job.DedupKey()

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO vote_job (id, dedup_key, question_id, option_id, identifier, state, attempts, max_attempts, run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
	`, id, key, job.QuestionID, job.OptionID, job.Identifier, string(models.JobWaiting), q.opts.MaxAttempts, now, now, now)
	if err != nil {
		return Enqueued{}, fmt.Errorf("enqueue vote job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Enqueued{}, fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		q.signal()
		return Enqueued{ID: id}, nil
	}

	var existing string
	err = q.db.QueryRowContext(ctx, `
		SELECT id FROM vote_job WHERE dedup_key = $1 AND state IN ($2, $3)
	`, key, string(models.JobWaiting), string(models.JobActive)).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Enqueued{}, fmt.Errorf("load pending job: %w", err)
	}
	return Enqueued{ID: existing, Duplicate: true}, nil
}

// Claim locks the next due job for this worker. It returns false when
// nothing is due. Waiting jobs whose run_at has passed and active jobs whose
// lock expired are both eligible. An expired job with no attempts left is
// dead-lettered as stalled instead of being claimed again.
func (q *Queue) Claim(ctx context.Context) (models.Job, bool, error) {
	now := q.now()
	lockedUntil := db.ToMillis(now.Add(q.opts.LockDuration))
	nowMs := db.ToMillis(now)

	if err := q.deadLetterStalled(ctx, nowMs); err != nil {
		return models.Job{}, false, err
	}

	lockClause := ""
	if q.dialect == db.Postgres {
		lockClause = "FOR UPDATE SKIP LOCKED"
	}

	// The outer predicate repeats the inner one so a row another worker
	// claimed in between is not claimed twice.
	row := q.db.QueryRowContext(ctx, `
		UPDATE vote_job
		SET state = $1, attempts = attempts + 1, locked_until = $2, updated_at = $3
		WHERE id = (
			SELECT id FROM vote_job
			WHERE (state = $4 AND run_at <= $3)
				OR (state = $1 AND locked_until <= $3 AND attempts < max_attempts)
			ORDER BY run_at, created_at
			LIMIT 1
			`+lockClause+`
		)
		AND ((state = $4 AND run_at <= $3)
			OR (state = $1 AND locked_until <= $3 AND attempts < max_attempts))
		RETURNING id, dedup_key, question_id, option_id, identifier, state, attempts, max_attempts,
			run_at, locked_until, last_error, created_at, updated_at, finished_at
	`, string(models.JobActive), lockedUntil, nowMs, string(models.JobWaiting))

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("claim vote job: %w", err)
	}
	return job, true, nil
}

// deadLetterStalled moves expired active jobs that spent their attempts to
// dead. Such a job took its worker down on every delivery.
func (q *Queue) deadLetterStalled(ctx context.Context, nowMs int64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE vote_job
		SET state = $1, last_error = $2, locked_until = NULL, finished_at = $3, updated_at = $3
		WHERE state = $4 AND locked_until <= $3 AND attempts >= max_attempts
	`, string(models.JobDead), StalledError, nowMs, string(models.JobActive))
	if err != nil {
		return fmt.Errorf("dead-letter stalled vote jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		q.logger.Error("stalled vote jobs dead-lettered",
			"event", "vote_job_stalled",
			"module", "queue",
			"count", n,
		)
	}
	return nil
}

// Complete acknowledges a claimed job. A completed job is never delivered
// again. It returns ErrLockLost when job no longer holds the lock it was
// claimed with.
func (q *Queue) Complete(ctx context.Context, job models.Job) error {
	lock, err := heldLock(job)
	if err != nil {
		return err
	}
	now := db.ToMillis(q.now())
	res, err := q.db.ExecContext(ctx, `
		UPDATE vote_job
		SET state = $1, locked_until = NULL, finished_at = $2, updated_at = $2
		WHERE id = $3 AND state = $4 AND locked_until = $5
	`, string(models.JobCompleted), now, job.ID, string(models.JobActive), lock)
	if err != nil {
		return fmt.Errorf("complete vote job: %w", err)
	}
	return expectOwned(res)
}

// Fail records a processing failure. The job is rescheduled with
// exponential backoff, or moved to dead once its attempts are spent. It
// reports whether the job was dead-lettered.
func (q *Queue) Fail(ctx context.Context, job models.Job, cause error) (bool, error) {
	lock, err := heldLock(job)
	if err != nil {
		return false, err
	}
	now := q.now()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if job.Attempts >= job.MaxAttempts {
		nowMs := db.ToMillis(now)
		res, err := q.db.ExecContext(ctx, `
			UPDATE vote_job
			SET state = $1, locked_until = NULL, last_error = $2, finished_at = $3, updated_at = $3
			WHERE id = $4 AND state = $5 AND locked_until = $6
		`, string(models.JobDead), msg, nowMs, job.ID, string(models.JobActive), lock)
		if err != nil {
			return false, fmt.Errorf("dead-letter vote job: %w", err)
		}
		if err := expectOwned(res); err != nil {
			return false, err
		}
		q.logger.Error("vote job dead-lettered",
			"event", "vote_job_dead_lettered",
			"module", "queue",
			"job_id", job.ID,
			"question_id", job.Vote.QuestionID,
			"attempts", job.Attempts,
			"error", msg,
		)
		return true, nil
	}

	runAt := now.Add(q.Backoff(job.Attempts))
	res, err := q.db.ExecContext(ctx, `
		UPDATE vote_job
		SET state = $1, locked_until = NULL, last_error = $2, run_at = $3, updated_at = $4
		WHERE id = $5 AND state = $6 AND locked_until = $7
	`, string(models.JobWaiting), msg, db.ToMillis(runAt), db.ToMillis(now), job.ID, string(models.JobActive), lock)
	if err != nil {
		return false, fmt.Errorf("reschedule vote job: %w", err)
	}
	if err := expectOwned(res); err != nil {
		return false, err
	}
	q.logger.Warn("vote job scheduled for retry",
		"event", "vote_job_retry_scheduled",
		"module", "queue",
		"job_id", job.ID,
		"attempts", job.Attempts,
		"run_at", runAt,
		"error", msg,
	)
	return false, nil
}

// Backoff returns the delay before the retry that follows the given number
// of attempts: base, 2*base, 4*base and so on, capped at BackoffMax.
func (q *Queue) Backoff(attempts int) time.Duration {
	d := q.opts.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= q.opts.BackoffMax {
			return q.opts.BackoffMax
		}
	}
	if d > q.opts.BackoffMax {
		return q.opts.BackoffMax
	}
	return d
}

// Get loads one job by id.
func (q *Queue) Get(ctx context.Context, id string) (models.Job, error) {
	job, err := scanJob(q.db.QueryRowContext(ctx, `
		SELECT id, dedup_key, question_id, option_id, identifier, state, attempts, max_attempts,
			run_at, locked_until, last_error, created_at, updated_at, finished_at
		FROM vote_job WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, ErrJobNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("load vote job: %w", err)
	}
	return job, nil
}

// ListDead returns dead-lettered jobs, most recent first.
func (q *Queue) ListDead(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, dedup_key, question_id, option_id, identifier, state, attempts, max_attempts,
			run_at, locked_until, last_error, created_at, updated_at, finished_at
		FROM vote_job
		WHERE state = $1
		ORDER BY finished_at DESC
		LIMIT $2
	`, string(models.JobDead), limit)
	if err != nil {
		return nil, fmt.Errorf("list dead jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead jobs: %w", err)
	}
	return jobs, nil
}

// RetryDead puts a dead job back in the waiting state with a fresh attempt
// budget.
func (q *Queue) RetryDead(ctx context.Context, id string) error {
	now := db.ToMillis(q.now())
	res, err := q.db.ExecContext(ctx, `
		UPDATE vote_job
		SET state = $1, attempts = 0, run_at = $2, locked_until = NULL, finished_at = NULL, updated_at = $3
		WHERE id = $4 AND state = $5
	`, string(models.JobWaiting), now, now, id, string(models.JobDead))
	if db.IsUniqueViolation(err) {
		return ErrPendingExists
	}
	if err != nil {
		return fmt.Errorf("retry dead job: %w", err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	q.logger.Info("dead vote job requeued",
		"event", "vote_job_requeued",
		"module", "queue",
		"job_id", id,
	)
	q.signal()
	return nil
}

// Prune deletes completed jobs that finished before the retention window.
// Dead jobs are kept for operators.
func (q *Queue) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := db.ToMillis(q.now().Add(-retention))
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM vote_job WHERE state = $1 AND finished_at < $2
	`, string(models.JobCompleted), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune vote jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats counts jobs per state.
func (q *Queue) Stats(ctx context.Context) (models.QueueStats, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM vote_job GROUP BY state`)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats models.QueueStats
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return models.QueueStats{}, fmt.Errorf("scan queue stats: %w", err)
		}
		switch models.JobState(state) {
		case models.JobWaiting:
			stats.Waiting = n
		case models.JobActive:
			stats.Active = n
		case models.JobCompleted:
			stats.Completed = n
		case models.JobDead:
			stats.Dead = n
		}
	}
	return stats, rows.Err()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return ErrJobNotFound
	}
	return nil
}

func expectOwned(res sql.Result) error {
	if err := expectOne(res); errors.Is(err, ErrJobNotFound) {
		return ErrLockLost
	} else if err != nil {
		return err
	}
	return nil
}

// heldLock returns the lock a claimed job was handed, which identifies the
// claim in Complete and Fail.
func heldLock(job models.Job) (int64, error) {
	if job.LockedUntil == nil {
		return 0, ErrLockLost
	}
	return db.ToMillis(*job.LockedUntil), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (models.Job, error) {
	var (
		job         models.Job
		state       string
		runAt       int64
		createdAt   int64
		updatedAt   int64
		lockedUntil sql.NullInt64
		finishedAt  sql.NullInt64
		lastError   sql.NullString
	)
	err := row.Scan(&job.ID, &job.DedupKey, &job.Vote.QuestionID, &job.Vote.OptionID, &job.Vote.Identifier,
		&state, &job.Attempts, &job.MaxAttempts, &runAt, &lockedUntil, &lastError, &createdAt, &updatedAt, &finishedAt)
	if err != nil {
		return models.Job{}, err
	}
	job.State = models.JobState(state)
	job.RunAt = db.FromMillis(runAt)
	job.LockedUntil = db.FromNullMillis(lockedUntil)
	job.LastError = lastError.String
	job.CreatedAt = db.FromMillis(createdAt)
	job.UpdatedAt = db.FromMillis(updatedAt)
	job.FinishedAt = db.FromNullMillis(finishedAt)
	return job, nil
}

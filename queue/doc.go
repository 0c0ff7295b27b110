// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package queue is the durable vote job queue.

Jobs live in the vote_job table, so they survive restarts and are shared by
every worker process that points at the same database.

# States

	waiting ──Claim──▶ active ──Complete──▶ completed
	   ▲                 │
	   └──Fail (retry)───┤
	                     └──Fail (spent)──▶ dead ──RetryDead──▶ waiting

An active job whose lock expires is claimable again. Complete is the only
acknowledgement; a completed job is never delivered again.

# Deduplication

A partial unique index covers dedup_key for waiting and active jobs, and
Enqueue inserts with ON CONFLICT DO NOTHING. The key is the same
voter-question pair the vote ledger uses, so a repeat that arrives after the
first job left the window is still absorbed by the ledger.

# Backoff

Retry delay doubles from BackoffBase per attempt and is capped at
BackoffMax. After MaxAttempts claims the next failure moves the job to dead.
*/
package queue

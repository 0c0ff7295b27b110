// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package worker drains the vote queue into the Ballot Store.

Each claimed job goes through Processor.Process:

 1. ApplyVote runs the ledger insert and increment in one transaction,
    bounded by VOTE_TX_TIMEOUT.
 2. A duplicate returns without a notification.
 3. After commit, the session's join code is published on the bus.

An error from step 1 fails the job and the queue schedules a retry or
dead-letters it. Publish errors are logged only.

# Pool

	proc := worker.NewProcessor(store, bus, cfg.Pipeline.TxTimeout, logger)
	pool := worker.NewPool(q, proc, cfg.Pipeline, logger)
	go pool.Run(ctx)

Workers wake on an in-process enqueue signal or every QUEUE_POLL_INTERVAL.
Cancelling ctx stops new claims; claimed jobs finish first. A housekeeping
tick prunes completed jobs older than QUEUE_COMPLETED_RETENTION.
*/
package worker

// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package ballot is the Ballot Store: sessions, questions, options with their
running tallies, and the vote ledger.

# Vote Ledger

Every counted vote leaves one vote_record row keyed by (identifier,
question_id). ApplyVote inserts that row first and treats a uniqueness
violation as "already counted":

	out, err := store.ApplyVote(ctx, job)
	if err != nil {
		// transient: the whole transaction rolled back, retry the job
	}
	if !out.Applied {
		// duplicate: nothing changed, no notification
	}

The insert, the option increment and the join code lookup share one
transaction. There is no read-then-write check, so any number of workers can
race on the same job and at most one increment survives.

# Sessions

Sessions move draft → active → stopped. Stopped is terminal.

	session, err := store.CreateSession(ctx, req)
	err = store.StartSession(ctx, session.ID)
	err = store.StopSession(ctx, session.ID)

ValidateVote is the intake-side check. It rejects an option that is not
under the named question (ErrInvalidVote) and sessions that are not active
(ErrSessionNotActive).

# Results

Results reads tallies from the option table on every call:

	results, err := store.Results(ctx, "ABC234")
*/
package ballot

// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db handles connections, schema creation and driver error mapping.

# Connections

Open connects to Postgres (lib/pq) or SQLite (modernc.org/sqlite):

	conn, err := db.Open(db.Postgres, cfg.DatabaseURL)

SQLite connections are tuned for concurrent writers: WAL journal, a busy
timeout, and BEGIN IMMEDIATE transactions.

# Schema Creation

CreateSchema initializes all required tables:

	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.

# Tables

  - session: title, join code, lifecycle status (draft, active, stopped)
  - question: belongs to one session, ordered by position
  - option: belongs to one question, carries the running vote count
  - vote_record: ledger of counted votes, primary key (identifier, question_id)
  - vote_job: durable vote queue

# Relationships

	session 1──* question
	question 1──* option
	question 1──* vote_record

All foreign keys use ON DELETE CASCADE.

# Indexes

  - session.join_code (unique)
  - vote_job.dedup_key (unique while the job is waiting or active)
  - vote_job.(state, run_at)

# Errors

IsUniqueViolation recognises Postgres code 23505 and the SQLite primary
key / unique constraint codes. The vote ledger relies on it.
*/
package db

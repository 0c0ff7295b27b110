// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types for the API.

# Request Types

  - CreateSessionRequest: title, owner_name, questions (text + option labels)
  - SubmitVoteRequest: question_id, option_id

# Response Types

  - CreateSessionResponse: session_id, join_code, admin_key, session
  - SubmitVoteResponse: message
  - SessionStatusResponse: session_id, status
  - Results: title, status, questions with per-option vote counts
  - ErrorResponse: error, message

# Domain Types

  - Session, Question, Option: ballot content
  - VoteRecord: ledger entry proving a voter was counted for a question
  - VoteJob, Job: queued vote work and its delivery state
  - ChangeNotification: bus payload ({"join_code": "..."})

# Constants

Session status values:

	StatusDraft   = "draft"
	StatusActive  = "active"
	StatusStopped = "stopped"

Job states:

	JobWaiting   = "waiting"
	JobActive    = "active"
	JobCompleted = "completed"
	JobDead      = "dead"
*/
package models

// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ballot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danielhkuo/livepoll/auth"
	"github.com/danielhkuo/livepoll/db"
	"github.com/danielhkuo/livepoll/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidSession    = errors.New("invalid session")
	ErrInvalidVote       = errors.New("option does not belong to question")
	ErrSessionNotActive  = errors.New("session is not active")
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrOptionMismatch    = errors.New("option not found under question")
)

// maxJoinCodeAttempts bounds retries when a generated join code collides.
const maxJoinCodeAttempts = 8

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the Ballot Store: sessions, questions, options, tallies and the
// vote ledger.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn, now: time.Now}
}

// Outcome reports what ApplyVote did with a job.
type Outcome struct {
	// Applied is false when the ledger already held the (voter, question)
	// pair and the job was a duplicate.
	Applied  bool
	JoinCode string
}

// CreateSession stores a draft session with its questions and options in one
// transaction and assigns it a fresh join code.
func (s *Store) CreateSession(ctx context.Context, req models.CreateSessionRequest) (models.Session, error) {
	if err := validateCreate(req); err != nil {
		return models.Session{}, err
	}

	for attempt := 0; attempt < maxJoinCodeAttempts; attempt++ {
		session, err := s.insertSession(ctx, req)
		if err == nil {
			return session, nil
		}
		if !db.IsUniqueViolation(err) {
			return models.Session{}, err
		}
	}
	return models.Session{}, fmt.Errorf("create session: no free join code after %d attempts", maxJoinCodeAttempts)
}

func validateCreate(req models.CreateSessionRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidSession)
	}
	if strings.TrimSpace(req.OwnerName) == "" {
		return fmt.Errorf("%w: owner_name is required", ErrInvalidSession)
	}
	if len(req.Questions) == 0 {
		return fmt.Errorf("%w: at least one question is required", ErrInvalidSession)
	}
	for i, q := range req.Questions {
		if strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("%w: question %d has no text", ErrInvalidSession, i+1)
		}
		if len(q.Options) < models.MinOptionsPerQuestion {
			return fmt.Errorf("%w: question %d needs at least %d options", ErrInvalidSession, i+1, models.MinOptionsPerQuestion)
		}
		for j, o := range q.Options {
			if strings.TrimSpace(o) == "" {
				return fmt.Errorf("%w: question %d option %d has no text", ErrInvalidSession, i+1, j+1)
			}
		}
	}
	return nil
}

func (s *Store) insertSession(ctx context.Context, req models.CreateSessionRequest) (models.Session, error) {
	sessionID, err := auth.GenerateID(16)
	if err != nil {
		return models.Session{}, err
	}
	joinCode, err := auth.GenerateJoinCode()
	if err != nil {
		return models.Session{}, err
	}
	now := s.now().UTC().Truncate(time.Millisecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Session{}, fmt.Errorf("begin create session: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO session (id, title, join_code, status, owner_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sessionID, req.Title, joinCode, models.StatusDraft, req.OwnerName, db.ToMillis(now))
	if err != nil {
		return models.Session{}, fmt.Errorf("insert session: %w", err)
	}

	session := models.Session{
		ID:        sessionID,
		Title:     req.Title,
		JoinCode:  joinCode,
		Status:    models.StatusDraft,
		OwnerName: req.OwnerName,
		CreatedAt: now,
	}

	for qi, qr := range req.Questions {
		questionID, err := auth.GenerateID(12)
		if err != nil {
			return models.Session{}, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO question (id, session_id, text, position)
			VALUES ($1, $2, $3, $4)
		`, questionID, sessionID, qr.Text, qi)
		if err != nil {
			return models.Session{}, fmt.Errorf("insert question: %w", err)
		}

		question := models.Question{ID: questionID, SessionID: sessionID, Text: qr.Text}
		for oi, text := range qr.Options {
			optionID, err := auth.GenerateID(12)
			if err != nil {
				return models.Session{}, err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO option (id, question_id, text, position, votes)
				VALUES ($1, $2, $3, $4, 0)
			`, optionID, questionID, text, oi)
			if err != nil {
				return models.Session{}, fmt.Errorf("insert option: %w", err)
			}
			zero := int64(0)
			question.Options = append(question.Options, models.Option{
				ID:         optionID,
				QuestionID: questionID,
				Text:       text,
				Votes:      &zero,
			})
		}
		session.Questions = append(session.Questions, question)
	}

	if err := tx.Commit(); err != nil {
		return models.Session{}, fmt.Errorf("commit create session: %w", err)
	}
	return session, nil
}

// GetSession returns a session by id with its questions and current counts.
func (s *Store) GetSession(ctx context.Context, id string) (models.Session, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, title, join_code, status, owner_name, created_at, started_at, stopped_at
		FROM session WHERE id = $1
	`, id))
	if err != nil {
		return models.Session{}, err
	}
	session.Questions, err = loadQuestions(ctx, s.db, session.ID, true)
	if err != nil {
		return models.Session{}, err
	}
	return session, nil
}

// GetSessionByJoinCode returns the session behind a join code without vote
// counts. The code is normalized first; a malformed code is ErrNotFound.
func (s *Store) GetSessionByJoinCode(ctx context.Context, joinCode string) (models.Session, error) {
	code, err := auth.NormalizeJoinCode(joinCode)
	if err != nil {
		return models.Session{}, ErrNotFound
	}
	session, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, title, join_code, status, owner_name, created_at, started_at, stopped_at
		FROM session WHERE join_code = $1
	`, code))
	if err != nil {
		return models.Session{}, err
	}
	session.Questions, err = loadQuestions(ctx, s.db, session.ID, false)
	if err != nil {
		return models.Session{}, err
	}
	return session, nil
}

// StartSession moves a draft session to active.
func (s *Store) StartSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE session SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4
	`, models.StatusActive, db.ToMillis(s.now()), id, models.StatusDraft)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

// StopSession moves a draft or active session to the terminal stopped state.
func (s *Store) StopSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE session SET status = $1, stopped_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`, models.StatusStopped, db.ToMillis(s.now()), id, models.StatusDraft, models.StatusActive)
	if err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

func (s *Store) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM session WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load session status: %w", err)
	}
	return fmt.Errorf("%w: session is %s", ErrInvalidTransition, status)
}

// ValidateVote checks that optionID is an option of questionID and that the
// question's session is accepting votes.
func (s *Store) ValidateVote(ctx context.Context, questionID, optionID string) error {
	if questionID == "" || optionID == "" {
		return ErrInvalidVote
	}
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT s.status
		FROM option o
		JOIN question q ON q.id = o.question_id
		JOIN session s ON s.id = q.session_id
		WHERE o.id = $1 AND o.question_id = $2
	`, optionID, questionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidVote
	}
	if err != nil {
		return fmt.Errorf("validate vote: %w", err)
	}
	if status != models.StatusActive {
		return ErrSessionNotActive
	}
	return nil
}

// ApplyVote counts a vote job at most once. The ledger insert decides
// duplicate versus new; the increment and the join code lookup run in the
// same transaction, so any failure leaves neither a ledger row nor a count.
func (s *Store) ApplyVote(ctx context.Context, job models.VoteJob) (Outcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("begin apply vote: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO vote_record (identifier, question_id, option_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, job.Identifier, job.QuestionID, job.OptionID, db.ToMillis(s.now()))
	if db.IsUniqueViolation(err) {
		return Outcome{Applied: false}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("insert vote record: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE option SET votes = votes + 1
		WHERE id = $1 AND question_id = $2
	`, job.OptionID, job.QuestionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("increment option: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Outcome{}, fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return Outcome{}, fmt.Errorf("increment option %s: %w", job.OptionID, ErrOptionMismatch)
	}

	var joinCode string
	err = tx.QueryRowContext(ctx, `
		SELECT s.join_code
		FROM question q
		JOIN session s ON s.id = q.session_id
		WHERE q.id = $1
	`, job.QuestionID).Scan(&joinCode)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve join code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Outcome{}, fmt.Errorf("commit apply vote: %w", err)
	}
	return Outcome{Applied: true, JoinCode: joinCode}, nil
}

// Results reads the current tallies for the session behind joinCode.
func (s *Store) Results(ctx context.Context, joinCode string) (models.Results, error) {
	code, err := auth.NormalizeJoinCode(joinCode)
	if err != nil {
		return models.Results{}, ErrNotFound
	}

	var sessionID string
	results := models.Results{Questions: []models.QuestionResult{}}
	err = s.db.QueryRowContext(ctx, `
		SELECT id, title, status FROM session WHERE join_code = $1
	`, code).Scan(&sessionID, &results.Title, &results.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Results{}, ErrNotFound
	}
	if err != nil {
		return models.Results{}, fmt.Errorf("load session: %w", err)
	}

	questions, err := loadQuestions(ctx, s.db, sessionID, true)
	if err != nil {
		return models.Results{}, err
	}
	for _, q := range questions {
		qr := models.QuestionResult{ID: q.ID, Text: q.Text, Options: []models.OptionResult{}}
		for _, o := range q.Options {
			qr.Options = append(qr.Options, models.OptionResult{ID: o.ID, Text: o.Text, Votes: *o.Votes})
		}
		results.Questions = append(results.Questions, qr)
	}
	return results, nil
}

// VoteCount returns the running tally of one option.
func (s *Store) VoteCount(ctx context.Context, optionID string) (int64, error) {
	var votes int64
	err := s.db.QueryRowContext(ctx, `SELECT votes FROM option WHERE id = $1`, optionID).Scan(&votes)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load vote count: %w", err)
	}
	return votes, nil
}

// HasVoted reports whether the ledger holds an entry for the pair.
func (s *Store) HasVoted(ctx context.Context, identifier, questionID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM vote_record WHERE identifier = $1 AND question_id = $2
	`, identifier, questionID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("load vote record: %w", err)
	}
	return n > 0, nil
}

func scanSession(row *sql.Row) (models.Session, error) {
	var (
		session   models.Session
		createdAt int64
		startedAt sql.NullInt64
		stoppedAt sql.NullInt64
	)
	err := row.Scan(&session.ID, &session.Title, &session.JoinCode, &session.Status,
		&session.OwnerName, &createdAt, &startedAt, &stoppedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, ErrNotFound
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("load session: %w", err)
	}
	session.CreatedAt = db.FromMillis(createdAt)
	session.StartedAt = db.FromNullMillis(startedAt)
	session.StoppedAt = db.FromNullMillis(stoppedAt)
	return session, nil
}

// loadQuestions returns a session's questions in position order, each with
// its options. Counts are filled in only when withVotes is set.
func loadQuestions(ctx context.Context, q querier, sessionID string, withVotes bool) ([]models.Question, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT q.id, q.text, o.id, o.text, o.votes
		FROM question q
		JOIN option o ON o.question_id = q.id
		WHERE q.session_id = $1
		ORDER BY q.position, o.position
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	questions := []models.Question{}
	for rows.Next() {
		var (
			questionID, questionText string
			opt                      models.Option
			votes                    int64
		)
		if err := rows.Scan(&questionID, &questionText, &opt.ID, &opt.Text, &votes); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		opt.QuestionID = questionID
		if withVotes {
			opt.Votes = &votes
		}

		if n := len(questions); n == 0 || questions[n-1].ID != questionID {
			questions = append(questions, models.Question{ID: questionID, SessionID: sessionID, Text: questionText})
		}
		last := &questions[len(questions)-1]
		last.Options = append(last.Options, opt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return questions, nil
}

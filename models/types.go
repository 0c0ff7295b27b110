package models

import "time"

// Session status constants
const (
	StatusDraft   = "draft"
	StatusActive  = "active"
	StatusStopped = "stopped"
)

// MinOptionsPerQuestion is the smallest option set a question may be created with.
const MinOptionsPerQuestion = 2

// Request types

type CreateSessionRequest struct {
	Title     string            `json:"title"`
	OwnerName string            `json:"owner_name"`
	Questions []QuestionRequest `json:"questions"`
}

type QuestionRequest struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

type SubmitVoteRequest struct {
	QuestionID string `json:"question_id"`
	OptionID   string `json:"option_id"`
}

// Response types

type CreateSessionResponse struct {
	SessionID string  `json:"session_id"`
	JoinCode  string  `json:"join_code"`
	AdminKey  string  `json:"admin_key"`
	Session   Session `json:"session"`
}

type SubmitVoteResponse struct {
	Message string `json:"message"`
}

type SessionStatusResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// Domain types

type Session struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	JoinCode  string     `json:"join_code"`
	Status    string     `json:"status"`
	OwnerName string     `json:"owner_name"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	Questions []Question `json:"questions"`
}

type Question struct {
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	Text      string   `json:"text"`
	Options   []Option `json:"options"`
}

// Votes is omitted from the public session view; results carry it.
type Option struct {
	ID         string `json:"id"`
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
	Votes      *int64 `json:"votes,omitempty"`
}

// VoteRecord is a ledger entry: this voter has been counted for this question.
type VoteRecord struct {
	Identifier string    `json:"-"` // Never expose in JSON
	QuestionID string    `json:"question_id"`
	OptionID   string    `json:"option_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Results types

type Results struct {
	Title     string           `json:"title"`
	Status    string           `json:"status"`
	Questions []QuestionResult `json:"questions"`
}

type QuestionResult struct {
	ID      string         `json:"id"`
	Text    string         `json:"text"`
	Options []OptionResult `json:"options"`
}

type OptionResult struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Votes int64  `json:"votes"`
}

// Queue types

// VoteJob is the unit of work carried by the vote queue.
type VoteJob struct {
	QuestionID string `json:"question_id"`
	OptionID   string `json:"option_id"`
	Identifier string `json:"-"`
}

// DedupKey is shared by the queue and the vote ledger: voter identifier
// followed by question id.
func (j VoteJob) DedupKey() string {
	return j.Identifier + "-" + j.QuestionID
}

type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobDead      JobState = "dead"
)

type Job struct {
	ID          string     `json:"id"`
	DedupKey    string     `json:"dedup_key"`
	Vote        VoteJob    `json:"vote"`
	State       JobState   `json:"state"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	RunAt       time.Time  `json:"run_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Dead      int `json:"dead"`
}

// Realtime types

// ChangeNotification is the bus payload: the join code of the session whose
// tally changed.
type ChangeNotification struct {
	JoinCode string `json:"join_code"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

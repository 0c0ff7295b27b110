// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielhkuo/livepoll/auth"
	"github.com/danielhkuo/livepoll/cliparse"
	"github.com/danielhkuo/livepoll/db"
	"github.com/danielhkuo/livepoll/models"
)

// TestDBEnv names the variable that points the tests at Postgres instead of
// a throwaway SQLite file.
const TestDBEnv = "TEST_DATABASE_URL"

// Dialect returns the backend SetupTestDB will use.
func Dialect() db.Dialect {
	if os.Getenv(TestDBEnv) != "" {
		return db.Postgres
	}
	return db.SQLite
}

// SetupTestDB creates a fresh test database with the full schema
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dialect := Dialect()
	dsn := os.Getenv(TestDBEnv)
	if dialect == db.SQLite {
		dsn = "file:" + filepath.Join(t.TempDir(), "livepoll.db")
	}

	conn, err := db.Open(dialect, dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Clean up tables before each test
	if dialect == db.Postgres {
		if err := db.DropSchema(conn); err != nil {
			t.Fatalf("Failed to clean database: %v", err)
		}
	}

	if err := db.CreateSchema(conn); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return conn
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:         3318,
		DatabaseURL:  "file:test.db",
		DatabaseType: string(Dialect()),
		AdminKeySalt: "test-admin-salt",
		VoterIDSalt:  "test-voter-salt",
		Mode:         cliparse.ModeAll,
		Pipeline:     FastPipeline(),
	}
}

// FastPipeline is pipeline tuning with short backoffs so retry and
// dead-letter paths finish quickly in tests.
func FastPipeline() cliparse.Pipeline {
	return cliparse.Pipeline{
		WorkerConcurrency:  4,
		MaxAttempts:        3,
		BackoffBase:        time.Millisecond,
		BackoffMax:         5 * time.Millisecond,
		LockDuration:       10 * time.Second,
		TxTimeout:          5 * time.Second,
		PollInterval:       5 * time.Millisecond,
		CompletedRetention: time.Hour,
	}
}

// SessionFixture identifies the rows created by CreateTestSession.
type SessionFixture struct {
	SessionID   string
	AdminKey    string
	JoinCode    string
	QuestionIDs []string
	// OptionIDs[i] lists the options of QuestionIDs[i].
	OptionIDs [][]string
}

// CreateTestSession inserts a session with the given join code and status
// holding two questions of two options each.
// status should be "draft", "active", or "stopped"
func CreateTestSession(t *testing.T, conn *sql.DB, cfg cliparse.Config, joinCode, status string) SessionFixture {
	t.Helper()

	sessionID, _ := auth.GenerateID(16)
	f := SessionFixture{
		SessionID: sessionID,
		AdminKey:  auth.GenerateAdminKey(sessionID, cfg.AdminKeySalt),
		JoinCode:  joinCode,
	}

	now := db.ToMillis(time.Now())
	var startedAt, stoppedAt *int64
	if status == models.StatusActive || status == models.StatusStopped {
		startedAt = &now
	}
	if status == models.StatusStopped {
		stoppedAt = &now
	}

	_, err := conn.Exec(`
		INSERT INTO session (id, title, join_code, status, owner_name, created_at, started_at, stopped_at)
		VALUES ($1, 'Test Session', $2, $3, 'TestOwner', $4, $5, $6)
	`, sessionID, joinCode, status, now, startedAt, stoppedAt)
	if err != nil {
		t.Fatalf("Failed to create test session: %v", err)
	}

	for qi, text := range []string{"Favourite colour?", "Favourite season?"} {
		questionID := AddTestQuestion(t, conn, sessionID, text, qi)
		f.QuestionIDs = append(f.QuestionIDs, questionID)

		var options []string
		for oi, label := range []string{"First", "Second"} {
			options = append(options, AddTestOption(t, conn, questionID, label, oi))
		}
		f.OptionIDs = append(f.OptionIDs, options)
	}

	return f
}

// AddTestQuestion adds a question to a session and returns the question ID
func AddTestQuestion(t *testing.T, conn *sql.DB, sessionID, text string, position int) string {
	t.Helper()

	questionID, _ := auth.GenerateID(12)
	_, err := conn.Exec(`
		INSERT INTO question (id, session_id, text, position)
		VALUES ($1, $2, $3, $4)
	`, questionID, sessionID, text, position)
	if err != nil {
		t.Fatalf("Failed to create test question: %v", err)
	}

	return questionID
}

// AddTestOption adds an option to a question and returns the option ID
func AddTestOption(t *testing.T, conn *sql.DB, questionID, label string, position int) string {
	t.Helper()

	optionID, _ := auth.GenerateID(12)
	_, err := conn.Exec(`
		INSERT INTO option (id, question_id, text, position, votes)
		VALUES ($1, $2, $3, $4, 0)
	`, optionID, questionID, label, position)
	if err != nil {
		t.Fatalf("Failed to create test option: %v", err)
	}

	return optionID
}

// VoteCount reads an option's tally straight from the table.
func VoteCount(t *testing.T, conn *sql.DB, optionID string) int64 {
	t.Helper()

	var votes int64
	if err := conn.QueryRow(`SELECT votes FROM option WHERE id = $1`, optionID).Scan(&votes); err != nil {
		t.Fatalf("Failed to read vote count: %v", err)
	}
	return votes
}

// LedgerCount counts vote_record rows for a (voter, question) pair.
func LedgerCount(t *testing.T, conn *sql.DB, identifier, questionID string) int {
	t.Helper()

	var n int
	err := conn.QueryRow(`
		SELECT COUNT(*) FROM vote_record WHERE identifier = $1 AND question_id = $2
	`, identifier, questionID).Scan(&n)
	if err != nil {
		t.Fatalf("Failed to count vote records: %v", err)
	}
	return n
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}

// Eventually polls cond until it returns true or the timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}

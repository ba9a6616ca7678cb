// Package storage provides persistent audit storage for verification attempts
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Attempt is one recorded verification attempt. Captured media is never
// stored, only the outcome.
type Attempt struct {
	ID                   string        `json:"id"`
	Phone                string        `json:"phone"`
	Verified             bool          `json:"verified"`
	NIN                  string        `json:"nin,omitempty"`
	Issues               []string      `json:"issues,omitempty"`
	RequiresManualReview bool          `json:"requires_manual_review"`
	PhoneVerified        bool          `json:"phone_verified"`
	LivenessCompleted    bool          `json:"liveness_completed"`
	ErrorMessage         string        `json:"error_message,omitempty"`
	Duration             time.Duration `json:"duration"`
	CreatedAt            time.Time     `json:"created_at"`
}

// Store provides persistent storage for verification attempts
type Store struct {
	db *sql.DB
}

// NewStore creates a new attempt store
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Open database
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database tables
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		phone TEXT NOT NULL,
		verified BOOLEAN NOT NULL,
		nin TEXT,
		issues BLOB,
		requires_manual_review BOOLEAN DEFAULT 0,
		phone_verified BOOLEAN DEFAULT 0,
		liveness_completed BOOLEAN DEFAULT 0,
		error_message TEXT,
		duration_ms INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_phone ON attempts(phone);
	CREATE INDEX IF NOT EXISTS idx_attempts_created_at ON attempts(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordAttempt persists one verification attempt and returns it with its
// generated ID and timestamp filled in.
func (s *Store) RecordAttempt(a Attempt) (*Attempt, error) {
	a.ID = uuid.NewString()
	a.CreatedAt = time.Now()

	issuesJSON, err := json.Marshal(a.Issues)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize issues: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO attempts (id, phone, verified, nin, issues, requires_manual_review,
			phone_verified, liveness_completed, error_message, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Phone, a.Verified, a.NIN, issuesJSON, a.RequiresManualReview,
		a.PhoneVerified, a.LivenessCompleted, a.ErrorMessage,
		a.Duration.Milliseconds(), a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}

	return &a, nil
}

// AttemptsForPhone returns the attempts recorded for a phone number, newest
// first, up to limit.
func (s *Store) AttemptsForPhone(phone string, limit int) ([]Attempt, error) {
	rows, err := s.db.Query(`
		SELECT id, phone, verified, nin, issues, requires_manual_review,
			phone_verified, liveness_completed, error_message, duration_ms, created_at
		FROM attempts WHERE phone = ?
		ORDER BY created_at DESC LIMIT ?`, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

// RecentAttempts returns the most recent attempts across all phones.
func (s *Store) RecentAttempts(limit int) ([]Attempt, error) {
	rows, err := s.db.Query(`
		SELECT id, phone, verified, nin, issues, requires_manual_review,
			phone_verified, liveness_completed, error_message, duration_ms, created_at
		FROM attempts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

func scanAttempts(rows *sql.Rows) ([]Attempt, error) {
	var attempts []Attempt

	for rows.Next() {
		var a Attempt
		var nin, errMsg sql.NullString
		var issuesJSON []byte
		var durationMs int64

		if err := rows.Scan(&a.ID, &a.Phone, &a.Verified, &nin, &issuesJSON,
			&a.RequiresManualReview, &a.PhoneVerified, &a.LivenessCompleted,
			&errMsg, &durationMs, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}

		a.NIN = nin.String
		a.ErrorMessage = errMsg.String
		a.Duration = time.Duration(durationMs) * time.Millisecond

		if len(issuesJSON) > 0 {
			if err := json.Unmarshal(issuesJSON, &a.Issues); err != nil {
				return nil, fmt.Errorf("failed to deserialize issues: %w", err)
			}
		}

		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

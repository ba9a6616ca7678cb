package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(filepath.Join(t.TempDir(), "kycscan.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAttempt(t *testing.T) {
	store := newTestStore(t)

	recorded, err := store.RecordAttempt(Attempt{
		Phone:                "+23276123456",
		Verified:             false,
		Issues:               []string{"Name mismatch"},
		RequiresManualReview: true,
		PhoneVerified:        true,
		LivenessCompleted:    true,
		Duration:             90 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to record attempt: %v", err)
	}

	if recorded.ID == "" {
		t.Error("Expected generated attempt ID")
	}
	if recorded.CreatedAt.IsZero() {
		t.Error("Expected created timestamp")
	}
}

func TestAttemptsForPhone(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.RecordAttempt(Attempt{Phone: "+23276123456", Verified: true, NIN: "SL123456789"}); err != nil {
		t.Fatalf("Failed to record attempt: %v", err)
	}
	if _, err := store.RecordAttempt(Attempt{Phone: "+23277999999", Issues: []string{"Document unreadable"}}); err != nil {
		t.Fatalf("Failed to record attempt: %v", err)
	}

	attempts, err := store.AttemptsForPhone("+23276123456", 10)
	if err != nil {
		t.Fatalf("Failed to query attempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("Expected 1 attempt, got %d", len(attempts))
	}
	if !attempts[0].Verified {
		t.Error("Expected verified attempt")
	}
	if attempts[0].NIN != "SL123456789" {
		t.Errorf("Expected NIN to round-trip, got %q", attempts[0].NIN)
	}

	attempts, err = store.AttemptsForPhone("+23230000000", 10)
	if err != nil {
		t.Fatalf("Failed to query attempts: %v", err)
	}
	if len(attempts) != 0 {
		t.Errorf("Expected no attempts for unknown phone, got %d", len(attempts))
	}
}

func TestAttemptFieldsRoundTrip(t *testing.T) {
	store := newTestStore(t)

	original := Attempt{
		Phone:                "+23276123456",
		Verified:             false,
		Issues:               []string{"Name mismatch", "Low image quality"},
		RequiresManualReview: true,
		PhoneVerified:        true,
		LivenessCompleted:    true,
		ErrorMessage:         "verification service unavailable",
		Duration:             2 * time.Minute,
	}
	if _, err := store.RecordAttempt(original); err != nil {
		t.Fatalf("Failed to record attempt: %v", err)
	}

	attempts, err := store.AttemptsForPhone(original.Phone, 1)
	if err != nil {
		t.Fatalf("Failed to query attempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("Expected 1 attempt, got %d", len(attempts))
	}

	got := attempts[0]
	if len(got.Issues) != 2 || got.Issues[0] != "Name mismatch" {
		t.Errorf("Issues did not round-trip: %v", got.Issues)
	}
	if !got.RequiresManualReview || !got.PhoneVerified || !got.LivenessCompleted {
		t.Error("Boolean fields did not round-trip")
	}
	if got.ErrorMessage != original.ErrorMessage {
		t.Errorf("Expected error message %q, got %q", original.ErrorMessage, got.ErrorMessage)
	}
	if got.Duration != original.Duration {
		t.Errorf("Expected duration %v, got %v", original.Duration, got.Duration)
	}
}

func TestRecentAttempts(t *testing.T) {
	store := newTestStore(t)

	phones := []string{"+23276111111", "+23277222222", "+23231333333"}
	for _, p := range phones {
		if _, err := store.RecordAttempt(Attempt{Phone: p}); err != nil {
			t.Fatalf("Failed to record attempt: %v", err)
		}
	}

	attempts, err := store.RecentAttempts(2)
	if err != nil {
		t.Fatalf("Failed to query recent attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Errorf("Expected 2 attempts with limit, got %d", len(attempts))
	}

	attempts, err = store.RecentAttempts(10)
	if err != nil {
		t.Fatalf("Failed to query recent attempts: %v", err)
	}
	if len(attempts) != 3 {
		t.Errorf("Expected 3 attempts, got %d", len(attempts))
	}
}

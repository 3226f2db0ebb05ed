package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"recenter-local/internal/database"
)

type fakeUploader struct {
	pushes map[string]int
	fail   map[string]bool
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{pushes: map[string]int{}, fail: map[string]bool{}}
}

func (u *fakeUploader) PushRecords(ctx context.Context, table string, records any) error {
	if u.fail[table] {
		return errors.New("remote rejected batch")
	}
	rows, ok := records.([]map[string]any)
	if !ok {
		return errors.New("unexpected payload type")
	}
	u.pushes[table] += len(rows)
	return nil
}

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(database.Migrations); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

func TestSyncOncePushesAndMarks(t *testing.T) {
	db := setupTestDB(t)
	uploader := newFakeUploader()
	s := New(db, uploader, func() bool { return true }, time.Second)

	if _, err := db.SaveCheckIn(&database.CheckIn{UserID: "u"}); err != nil {
		t.Fatalf("Failed to save check-in: %v", err)
	}
	if _, err := db.SaveCheckIn(&database.CheckIn{UserID: "u"}); err != nil {
		t.Fatalf("Failed to save check-in: %v", err)
	}
	if _, err := db.SaveJournalEntry(&database.JournalEntry{UserID: "u", Entry: "e"}); err != nil {
		t.Fatalf("Failed to save journal entry: %v", err)
	}
	if err := db.SaveUserPreference(&database.UserPreference{UserID: "u", Key: "theme", Value: "dark"}); err != nil {
		t.Fatalf("Failed to save preference: %v", err)
	}

	pushed, failed := s.syncOnce(context.Background())
	if failed != 0 {
		t.Fatalf("Expected no failures, got %d", failed)
	}
	if pushed != 4 {
		t.Errorf("Expected 4 records pushed, got %d", pushed)
	}
	if uploader.pushes["checkins"] != 2 {
		t.Errorf("Expected 2 checkins pushed, got %d", uploader.pushes["checkins"])
	}
	if uploader.pushes["journal_entries"] != 1 {
		t.Errorf("Expected 1 journal entry pushed, got %d", uploader.pushes["journal_entries"])
	}
	if uploader.pushes["user_prefs"] != 1 {
		t.Errorf("Expected 1 preference pushed, got %d", uploader.pushes["user_prefs"])
	}

	counts, err := db.UnsyncedCounts()
	if err != nil {
		t.Fatalf("Failed to count unsynced: %v", err)
	}
	for entity, count := range counts {
		if count != 0 {
			t.Errorf("Expected %s drained, got %d unsynced", entity, count)
		}
	}

	// A second pass finds nothing
	pushed, failed = s.syncOnce(context.Background())
	if pushed != 0 || failed != 0 {
		t.Errorf("Expected idle second pass, got pushed=%d failed=%d", pushed, failed)
	}
}

func TestSyncOnceFailedEntityStaysUnsynced(t *testing.T) {
	db := setupTestDB(t)
	uploader := newFakeUploader()
	uploader.fail["checkins"] = true
	s := New(db, uploader, func() bool { return true }, time.Second)

	if _, err := db.SaveCheckIn(&database.CheckIn{UserID: "u"}); err != nil {
		t.Fatalf("Failed to save check-in: %v", err)
	}
	if _, err := db.SaveJournalEntry(&database.JournalEntry{UserID: "u", Entry: "e"}); err != nil {
		t.Fatalf("Failed to save journal entry: %v", err)
	}

	pushed, failed := s.syncOnce(context.Background())
	if failed != 1 {
		t.Errorf("Expected 1 failed entity, got %d", failed)
	}
	if pushed != 1 {
		t.Errorf("Expected journal entry still pushed, got %d", pushed)
	}

	counts, err := db.UnsyncedCounts()
	if err != nil {
		t.Fatalf("Failed to count unsynced: %v", err)
	}
	if counts["checkins"] != 1 {
		t.Errorf("Expected failed check-in to stay unsynced, got %d", counts["checkins"])
	}
	if counts["journal_entries"] != 0 {
		t.Errorf("Expected journal entry drained, got %d", counts["journal_entries"])
	}
}

func TestStartIdlesWhileSignedOut(t *testing.T) {
	db := setupTestDB(t)
	uploader := newFakeUploader()
	s := New(db, uploader, func() bool { return false }, 10*time.Millisecond)

	if _, err := db.SaveCheckIn(&database.CheckIn{UserID: "u"}); err != nil {
		t.Fatalf("Failed to save check-in: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := s.Start(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}

	if len(uploader.pushes) != 0 {
		t.Errorf("Expected no pushes while signed out, got %v", uploader.pushes)
	}
}

func TestStartPushesWhileSignedIn(t *testing.T) {
	db := setupTestDB(t)
	uploader := newFakeUploader()
	s := New(db, uploader, func() bool { return true }, 10*time.Millisecond)

	if _, err := db.SaveCheckIn(&database.CheckIn{UserID: "u"}); err != nil {
		t.Fatalf("Failed to save check-in: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	if uploader.pushes["checkins"] != 1 {
		t.Errorf("Expected check-in pushed by the loop, got %v", uploader.pushes)
	}
}

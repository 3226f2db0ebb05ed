package settings

import (
	"testing"

	"recenter-local/internal/securestore"
)

func TestLoadDefaultsWhenEmpty(t *testing.T) {
	store := securestore.NewMemoryStore()

	state, err := Load(store)
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}
	if !state.JournalReminders {
		t.Error("Expected journal reminders on by default")
	}
	if state.ProgressUpdates {
		t.Error("Expected progress updates off by default")
	}
	if state.DarkMode {
		t.Error("Expected dark mode off by default")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := securestore.NewMemoryStore()

	want := State{JournalReminders: false, ProgressUpdates: true, DarkMode: true}
	if err := Save(store, want); err != nil {
		t.Fatalf("Failed to save settings: %v", err)
	}

	got, err := Load(store)
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}
	if got != want {
		t.Errorf("Round-trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestLoadFillsMissingFields(t *testing.T) {
	store := securestore.NewMemoryStore()

	// An older blob without the darkMode field
	if err := store.Set(securestore.KeySettings, `{"journalReminders":false}`); err != nil {
		t.Fatalf("Failed to seed store: %v", err)
	}

	state, err := Load(store)
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}
	if state.JournalReminders {
		t.Error("Expected explicit false to survive")
	}
	if state.ProgressUpdates {
		t.Error("Expected missing field to take the default")
	}
	if state.DarkMode {
		t.Error("Expected missing field to take the default")
	}
}

func TestLoadCorruptBlobFallsBack(t *testing.T) {
	store := securestore.NewMemoryStore()

	if err := store.Set(securestore.KeySettings, "{not json"); err != nil {
		t.Fatalf("Failed to seed store: %v", err)
	}

	state, err := Load(store)
	if err != nil {
		t.Fatalf("Expected fallback, got error: %v", err)
	}
	if state != Defaults() {
		t.Errorf("Expected defaults for corrupt blob, got %+v", state)
	}
}

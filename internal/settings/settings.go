// Package settings stores user-facing app preferences as a versioned JSON
// blob in the secure store, separate from the per-user preference rows the
// database keeps for sync.
package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"recenter-local/internal/securestore"
)

// State holds the locally persisted app settings
type State struct {
	JournalReminders bool `json:"journalReminders"`
	ProgressUpdates  bool `json:"progressUpdates"`
	DarkMode         bool `json:"darkMode"`
}

// Defaults returns the settings used before the user has saved anything
func Defaults() State {
	return State{
		JournalReminders: true,
		ProgressUpdates:  false,
		DarkMode:         false,
	}
}

// Load reads the persisted settings, filling missing fields from Defaults.
// A blob that fails to parse falls back to the defaults entirely rather than
// surfacing an error; the stored value is advisory.
func Load(store securestore.Store) (State, error) {
	raw, err := store.Get(securestore.KeySettings)
	if err != nil {
		return Defaults(), fmt.Errorf("reading settings: %w", err)
	}
	if raw == "" {
		return Defaults(), nil
	}

	// Pointer fields distinguish absent keys from explicit false
	var parsed struct {
		JournalReminders *bool `json:"journalReminders"`
		ProgressUpdates  *bool `json:"progressUpdates"`
		DarkMode         *bool `json:"darkMode"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		slog.Warn("Failed to parse stored settings, using defaults", "error", err)
		return Defaults(), nil
	}

	state := Defaults()
	if parsed.JournalReminders != nil {
		state.JournalReminders = *parsed.JournalReminders
	}
	if parsed.ProgressUpdates != nil {
		state.ProgressUpdates = *parsed.ProgressUpdates
	}
	if parsed.DarkMode != nil {
		state.DarkMode = *parsed.DarkMode
	}
	return state, nil
}

// Save persists the settings blob
func Save(store securestore.Store, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := store.Set(securestore.KeySettings, string(data)); err != nil {
		return fmt.Errorf("persisting settings: %w", err)
	}
	return nil
}

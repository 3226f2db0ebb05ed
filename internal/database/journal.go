package database

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"recenter-local/internal/metrics"
)

// JournalEntry is a free-text journal row
type JournalEntry struct {
	ID        string
	UserID    string
	Entry     string
	Mood      *string
	CreatedAt int64
	Synced    bool
	UpdatedAt int64
}

// SaveJournalEntry upserts an entry keyed by id. Re-upserting an existing id
// preserves its created_at. Returns the record id.
func (db *DB) SaveJournalEntry(e *JournalEntry) (string, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpSaveJournalEntry))
	defer timer.ObserveDuration()

	if e.ID == "" {
		e.ID = newID("journal")
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = nowMillis()
	}
	if e.UpdatedAt == 0 {
		e.UpdatedAt = nowMillis()
	}

	_, err := db.conn.Exec(`
		INSERT INTO journal_entries (id, user_id, entry, mood, created_at, synced, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			entry = excluded.entry,
			mood = excluded.mood,
			synced = excluded.synced,
			updated_at = excluded.updated_at
	`, e.ID, e.UserID, e.Entry, e.Mood, e.CreatedAt, boolToInt(e.Synced), e.UpdatedAt)

	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpSaveJournalEntry).Inc()
		return "", fmt.Errorf("failed to save journal entry: %w", err)
	}
	return e.ID, nil
}

// ListJournalEntries returns entries ordered by created_at descending.
// An empty userID returns all rows.
func (db *DB) ListJournalEntries(userID string) ([]*JournalEntry, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListJournal))
	defer timer.ObserveDuration()

	query := "SELECT id, user_id, entry, mood, created_at, synced, updated_at FROM journal_entries"
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListJournal).Inc()
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	defer rows.Close()

	var entries []*JournalEntry
	for rows.Next() {
		e, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal entries: %w", err)
	}

	return entries, nil
}

// UnsyncedJournalEntries returns up to limit entries awaiting push
func (db *DB) UnsyncedJournalEntries(limit int) ([]*JournalEntry, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListUnsynced))
	defer timer.ObserveDuration()

	rows, err := db.conn.Query(`
		SELECT id, user_id, entry, mood, created_at, synced, updated_at
		FROM journal_entries WHERE synced = 0 ORDER BY updated_at ASC LIMIT ?
	`, limit)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListUnsynced).Inc()
		return nil, fmt.Errorf("failed to list unsynced journal entries: %w", err)
	}
	defer rows.Close()

	var entries []*JournalEntry
	for rows.Next() {
		e, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func scanJournalEntry(row rowScanner) (*JournalEntry, error) {
	var e JournalEntry
	var synced int
	if err := row.Scan(&e.ID, &e.UserID, &e.Entry, &e.Mood, &e.CreatedAt, &synced, &e.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan journal entry: %w", err)
	}
	e.Synced = synced != 0
	return &e, nil
}

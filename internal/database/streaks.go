package database

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"recenter-local/internal/metrics"
)

// Streak tracks consecutive-day activity per user and kind ("checkin",
// "journal", "breath")
type Streak struct {
	ID        string
	UserID    string
	Kind      string
	Count     int
	Active    bool
	Synced    bool
	UpdatedAt int64
}

// SaveStreak upserts a streak keyed by (user_id, kind). Returns the record id.
func (db *DB) SaveStreak(s *Streak) (string, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpSaveStreak))
	defer timer.ObserveDuration()

	if s.ID == "" {
		s.ID = newID("streak")
		s.Active = true
	}
	if s.UpdatedAt == 0 {
		s.UpdatedAt = nowMillis()
	}

	_, err := db.conn.Exec(`
		INSERT INTO streaks (id, user_id, kind, count, active, synced, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, kind) DO UPDATE SET
			id = excluded.id,
			count = excluded.count,
			active = excluded.active,
			synced = excluded.synced,
			updated_at = excluded.updated_at
	`, s.ID, s.UserID, s.Kind, s.Count, boolToInt(s.Active), boolToInt(s.Synced), s.UpdatedAt)

	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpSaveStreak).Inc()
		return "", fmt.Errorf("failed to save streak: %w", err)
	}
	return s.ID, nil
}

// ListStreaks returns streaks ordered by updated_at descending.
// An empty userID returns all rows.
func (db *DB) ListStreaks(userID string) ([]*Streak, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListStreaks))
	defer timer.ObserveDuration()

	query := "SELECT id, user_id, kind, count, active, synced, updated_at FROM streaks"
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY updated_at DESC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListStreaks).Inc()
		return nil, fmt.Errorf("failed to list streaks: %w", err)
	}
	defer rows.Close()

	var streaks []*Streak
	for rows.Next() {
		s, err := scanStreak(rows)
		if err != nil {
			return nil, err
		}
		streaks = append(streaks, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating streaks: %w", err)
	}

	return streaks, nil
}

// UnsyncedStreaks returns up to limit streaks awaiting push
func (db *DB) UnsyncedStreaks(limit int) ([]*Streak, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListUnsynced))
	defer timer.ObserveDuration()

	rows, err := db.conn.Query(`
		SELECT id, user_id, kind, count, active, synced, updated_at
		FROM streaks WHERE synced = 0 ORDER BY updated_at ASC LIMIT ?
	`, limit)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListUnsynced).Inc()
		return nil, fmt.Errorf("failed to list unsynced streaks: %w", err)
	}
	defer rows.Close()

	var streaks []*Streak
	for rows.Next() {
		s, err := scanStreak(rows)
		if err != nil {
			return nil, err
		}
		streaks = append(streaks, s)
	}

	return streaks, rows.Err()
}

func scanStreak(row rowScanner) (*Streak, error) {
	var s Streak
	var active, synced int
	if err := row.Scan(&s.ID, &s.UserID, &s.Kind, &s.Count, &active, &synced, &s.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan streak: %w", err)
	}
	s.Active = active != 0
	s.Synced = synced != 0
	return &s, nil
}

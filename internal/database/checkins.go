package database

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"recenter-local/internal/metrics"
)

// CheckIn is a mood check-in row
type CheckIn struct {
	ID         string
	UserID     string
	OccurredAt int64
	Mood       *string
	Note       *string
	Synced     bool
	UpdatedAt  int64
}

// SaveCheckIn upserts a check-in keyed by id, generating the id and
// timestamps when absent. Returns the record id.
func (db *DB) SaveCheckIn(c *CheckIn) (string, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpSaveCheckIn))
	defer timer.ObserveDuration()

	if c.ID == "" {
		c.ID = newID("checkin")
	}
	if c.OccurredAt == 0 {
		c.OccurredAt = nowMillis()
	}
	if c.UpdatedAt == 0 {
		c.UpdatedAt = nowMillis()
	}

	_, err := db.conn.Exec(`
		INSERT INTO checkins (id, user_id, occurred_at, mood, note, synced, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			occurred_at = excluded.occurred_at,
			mood = excluded.mood,
			note = excluded.note,
			synced = excluded.synced,
			updated_at = excluded.updated_at
	`, c.ID, c.UserID, c.OccurredAt, c.Mood, c.Note, boolToInt(c.Synced), c.UpdatedAt)

	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpSaveCheckIn).Inc()
		return "", fmt.Errorf("failed to save check-in: %w", err)
	}
	return c.ID, nil
}

// ListCheckIns returns check-ins ordered by occurred_at descending.
// An empty userID returns all rows.
func (db *DB) ListCheckIns(userID string) ([]*CheckIn, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListCheckIns))
	defer timer.ObserveDuration()

	query := "SELECT id, user_id, occurred_at, mood, note, synced, updated_at FROM checkins"
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY occurred_at DESC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListCheckIns).Inc()
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	defer rows.Close()

	var checkins []*CheckIn
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, err
		}
		checkins = append(checkins, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating check-ins: %w", err)
	}

	return checkins, nil
}

// UnsyncedCheckIns returns up to limit check-ins awaiting push
func (db *DB) UnsyncedCheckIns(limit int) ([]*CheckIn, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListUnsynced))
	defer timer.ObserveDuration()

	rows, err := db.conn.Query(`
		SELECT id, user_id, occurred_at, mood, note, synced, updated_at
		FROM checkins WHERE synced = 0 ORDER BY updated_at ASC LIMIT ?
	`, limit)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListUnsynced).Inc()
		return nil, fmt.Errorf("failed to list unsynced check-ins: %w", err)
	}
	defer rows.Close()

	var checkins []*CheckIn
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, err
		}
		checkins = append(checkins, c)
	}

	return checkins, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckIn(row rowScanner) (*CheckIn, error) {
	var c CheckIn
	var synced int
	if err := row.Scan(&c.ID, &c.UserID, &c.OccurredAt, &c.Mood, &c.Note, &synced, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan check-in: %w", err)
	}
	c.Synced = synced != 0
	return &c, nil
}

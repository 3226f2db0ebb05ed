package database

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"recenter-local/internal/metrics"
)

// UserPreference is a per-user key/value preference row
type UserPreference struct {
	ID        int64
	UserID    string
	Key       string
	Value     string
	Synced    bool
	UpdatedAt int64
}

// SaveUserPreference upserts a preference keyed by (user_id, pref_key),
// writing all fields including synced and updated_at
func (db *DB) SaveUserPreference(pref *UserPreference) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpSavePref))
	defer timer.ObserveDuration()

	if pref.UpdatedAt == 0 {
		pref.UpdatedAt = nowMillis()
	}

	_, err := db.conn.Exec(`
		INSERT INTO user_prefs (user_id, pref_key, pref_value, synced, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, pref_key) DO UPDATE SET
			pref_value = excluded.pref_value,
			synced = excluded.synced,
			updated_at = excluded.updated_at
	`, pref.UserID, pref.Key, pref.Value, boolToInt(pref.Synced), pref.UpdatedAt)

	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpSavePref).Inc()
		return fmt.Errorf("failed to save user preference: %w", err)
	}
	return nil
}

// ListUserPreferences returns preferences ordered by updated_at descending.
// An empty userID returns all rows.
func (db *DB) ListUserPreferences(userID string) ([]*UserPreference, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListPrefs))
	defer timer.ObserveDuration()

	query := "SELECT id, user_id, pref_key, pref_value, synced, updated_at FROM user_prefs"
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY updated_at DESC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListPrefs).Inc()
		return nil, fmt.Errorf("failed to list user preferences: %w", err)
	}
	defer rows.Close()

	var prefs []*UserPreference
	for rows.Next() {
		var p UserPreference
		var synced int
		if err := rows.Scan(&p.ID, &p.UserID, &p.Key, &p.Value, &synced, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user preference: %w", err)
		}
		p.Synced = synced != 0
		prefs = append(prefs, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user preferences: %w", err)
	}

	return prefs, nil
}

// MarkUserPrefsSynced batch-updates synced and updated_at for the given
// preference rows (integer primary keys, unlike the other record tables)
func (db *DB) MarkUserPrefsSynced(ids []int64, synced bool) error {
	if len(ids) == 0 {
		return nil
	}

	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpMarkSynced))
	defer timer.ObserveDuration()

	args := make([]any, 0, len(ids)+2)
	args = append(args, boolToInt(synced), nowMillis())
	query := "UPDATE user_prefs SET synced = ?, updated_at = ? WHERE id IN ("
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, id)
	}
	query += ")"

	if _, err := db.conn.Exec(query, args...); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkSynced).Inc()
		return fmt.Errorf("failed to mark user_prefs synced: %w", err)
	}
	return nil
}

// UnsyncedUserPreferences returns up to limit preference rows awaiting push
func (db *DB) UnsyncedUserPreferences(limit int) ([]*UserPreference, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListUnsynced))
	defer timer.ObserveDuration()

	rows, err := db.conn.Query(`
		SELECT id, user_id, pref_key, pref_value, synced, updated_at
		FROM user_prefs WHERE synced = 0 ORDER BY updated_at ASC LIMIT ?
	`, limit)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListUnsynced).Inc()
		return nil, fmt.Errorf("failed to list unsynced user preferences: %w", err)
	}
	defer rows.Close()

	var prefs []*UserPreference
	for rows.Next() {
		var p UserPreference
		var synced int
		if err := rows.Scan(&p.ID, &p.UserID, &p.Key, &p.Value, &synced, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user preference: %w", err)
		}
		p.Synced = synced != 0
		prefs = append(prefs, &p)
	}

	return prefs, rows.Err()
}

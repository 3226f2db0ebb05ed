package database

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"recenter-local/internal/metrics"
)

// newID generates a client-side globally unique record id with a
// human-readable entity prefix, e.g. "checkin_5f3a...".
func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// markSynced batch-updates the synced flag and updated_at for the given ids
// in one of the string-keyed record tables. No other field is touched.
func (db *DB) markSynced(table string, ids []string, synced bool) error {
	if len(ids) == 0 {
		return nil
	}

	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpMarkSynced))
	defer timer.ObserveDuration()

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+2)
	args = append(args, boolToInt(synced), nowMillis())
	for _, id := range ids {
		args = append(args, id)
	}

	query := fmt.Sprintf("UPDATE %s SET synced = ?, updated_at = ? WHERE id IN (%s)", table, placeholders)
	if _, err := db.conn.Exec(query, args...); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkSynced).Inc()
		return fmt.Errorf("failed to mark %s synced: %w", table, err)
	}

	return nil
}

// MarkCheckInsSynced batch-updates synced and updated_at for the given check-ins
func (db *DB) MarkCheckInsSynced(ids []string, synced bool) error {
	return db.markSynced("checkins", ids, synced)
}

// MarkSessionsSynced batch-updates synced and updated_at for the given sessions
func (db *DB) MarkSessionsSynced(ids []string, synced bool) error {
	return db.markSynced("sessions", ids, synced)
}

// MarkJournalEntriesSynced batch-updates synced and updated_at for the given entries
func (db *DB) MarkJournalEntriesSynced(ids []string, synced bool) error {
	return db.markSynced("journal_entries", ids, synced)
}

// MarkStreaksSynced batch-updates synced and updated_at for the given streaks
func (db *DB) MarkStreaksSynced(ids []string, synced bool) error {
	return db.markSynced("streaks", ids, synced)
}

var recordTables = []string{
	"user_prefs", "checkins", "sessions", "journal_entries", "content_cache", "streaks",
}

// ClearAll wipes every record table in a single transaction. This is the
// full local-data wipe; the migration ledger is left intact.
func (db *DB) ClearAll() error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpClearAll))
	defer timer.ObserveDuration()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin wipe: %w", err)
	}

	for _, table := range recordTables {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			tx.Rollback()
			metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpClearAll).Inc()
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpClearAll).Inc()
		return fmt.Errorf("failed to commit wipe: %w", err)
	}

	return nil
}

// UnsyncedCounts returns the number of rows per table not yet acknowledged
// by the remote. Used by the metrics depth collector.
func (db *DB) UnsyncedCounts() (map[string]int, error) {
	counts := make(map[string]int, len(recordTables))
	for _, table := range recordTables {
		var n int
		err := db.conn.QueryRow("SELECT COUNT(*) FROM " + table + " WHERE synced = 0").Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("failed to count unsynced %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

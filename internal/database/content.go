package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"recenter-local/internal/metrics"
)

// ContentRecord is a cached remote content item (exercise scripts, learn
// articles, crisis resources) addressed by slug
type ContentRecord struct {
	ID        string
	Slug      string
	Payload   json.RawMessage
	Synced    bool
	UpdatedAt int64
}

// SaveContent upserts a content item keyed by its slug. Content arrives from
// the remote, so synced defaults to true for new rows. Returns the record id.
func (db *DB) SaveContent(rec *ContentRecord) (string, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpSaveContent))
	defer timer.ObserveDuration()

	if rec.ID == "" {
		rec.ID = newID("cache")
		rec.Synced = true
	}
	if rec.UpdatedAt == 0 {
		rec.UpdatedAt = nowMillis()
	}

	_, err := db.conn.Exec(`
		INSERT INTO content_cache (id, slug, payload, synced, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			id = excluded.id,
			payload = excluded.payload,
			synced = excluded.synced,
			updated_at = excluded.updated_at
	`, rec.ID, rec.Slug, string(rec.Payload), boolToInt(rec.Synced), rec.UpdatedAt)

	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpSaveContent).Inc()
		return "", fmt.Errorf("failed to save content: %w", err)
	}
	return rec.ID, nil
}

// GetContent retrieves a content item by slug, or nil when absent
func (db *DB) GetContent(slug string) (*ContentRecord, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetContent))
	defer timer.ObserveDuration()

	var rec ContentRecord
	var synced int
	var payload string
	err := db.conn.QueryRow(`
		SELECT id, slug, payload, synced, updated_at FROM content_cache WHERE slug = ?
	`, slug).Scan(&rec.ID, &rec.Slug, &payload, &synced, &rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetContent).Inc()
		return nil, fmt.Errorf("failed to get content: %w", err)
	}

	rec.Synced = synced != 0
	rec.Payload = json.RawMessage(payload)
	return &rec, nil
}

package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"recenter-local/internal/metrics"
)

// SessionRecord is a completed (or in-progress) exercise session: breathing,
// grounding, SOS and similar. Metadata carries kind-specific fields as JSON.
type SessionRecord struct {
	ID          string
	UserID      string
	StartedAt   *int64
	EndedAt     *int64
	SessionType *string
	Metadata    json.RawMessage
	Synced      bool
	UpdatedAt   int64
}

// SetMetadata marshals v into the session's metadata blob
func (s *SessionRecord) SetMetadata(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode session metadata: %w", err)
	}
	s.Metadata = data
	return nil
}

// DecodeMetadata unmarshals the metadata blob into v. Returns false when no
// metadata is present.
func (s *SessionRecord) DecodeMetadata(v any) (bool, error) {
	if len(s.Metadata) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(s.Metadata, v); err != nil {
		return false, fmt.Errorf("failed to decode session metadata: %w", err)
	}
	return true, nil
}

// SaveSession upserts a session keyed by id. Returns the record id.
func (db *DB) SaveSession(s *SessionRecord) (string, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpSaveSession))
	defer timer.ObserveDuration()

	if s.ID == "" {
		s.ID = newID("session")
	}
	if s.UpdatedAt == 0 {
		s.UpdatedAt = nowMillis()
	}

	var metadata any
	if len(s.Metadata) > 0 {
		metadata = string(s.Metadata)
	}

	_, err := db.conn.Exec(`
		INSERT INTO sessions (id, user_id, started_at, ended_at, session_type, metadata, synced, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			session_type = excluded.session_type,
			metadata = excluded.metadata,
			synced = excluded.synced,
			updated_at = excluded.updated_at
	`, s.ID, s.UserID, s.StartedAt, s.EndedAt, s.SessionType, metadata, boolToInt(s.Synced), s.UpdatedAt)

	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpSaveSession).Inc()
		return "", fmt.Errorf("failed to save session: %w", err)
	}
	return s.ID, nil
}

// ListSessions returns sessions ordered by started_at descending.
// An empty userID returns all rows.
func (db *DB) ListSessions(userID string) ([]*SessionRecord, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListSessions))
	defer timer.ObserveDuration()

	query := "SELECT id, user_id, started_at, ended_at, session_type, metadata, synced, updated_at FROM sessions"
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY started_at DESC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListSessions).Inc()
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionRecord
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// UnsyncedSessions returns up to limit sessions awaiting push
func (db *DB) UnsyncedSessions(limit int) ([]*SessionRecord, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListUnsynced))
	defer timer.ObserveDuration()

	rows, err := db.conn.Query(`
		SELECT id, user_id, started_at, ended_at, session_type, metadata, synced, updated_at
		FROM sessions WHERE synced = 0 ORDER BY updated_at ASC LIMIT ?
	`, limit)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListUnsynced).Inc()
		return nil, fmt.Errorf("failed to list unsynced sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionRecord
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var s SessionRecord
	var synced int
	var metadata sql.NullString
	if err := row.Scan(&s.ID, &s.UserID, &s.StartedAt, &s.EndedAt, &s.SessionType, &metadata, &synced, &s.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	s.Synced = synced != 0
	if metadata.Valid && metadata.String != "" {
		s.Metadata = json.RawMessage(metadata.String)
	}
	return &s, nil
}

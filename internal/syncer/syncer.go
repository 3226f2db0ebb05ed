// Package syncer pushes locally written records to the remote data API in
// the background. It only runs while a user is signed in; everything it
// pushes stays usable offline regardless.
package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"recenter-local/internal/database"
	"recenter-local/internal/metrics"
)

const defaultBatchSize = 50

// Uploader pushes a batch of rows into a remote table
type Uploader interface {
	PushRecords(ctx context.Context, table string, records any) error
}

// Syncer drains unsynced rows entity by entity on a poll interval
type Syncer struct {
	db            *database.DB
	uploader      Uploader
	authenticated func() bool
	logger        *slog.Logger
	pollInterval  time.Duration
	batchSize     int
}

// New creates a syncer. authenticated gates each cycle; the syncer idles
// while it returns false.
func New(db *database.DB, uploader Uploader, authenticated func() bool, pollInterval time.Duration) *Syncer {
	return &Syncer{
		db:            db,
		uploader:      uploader,
		authenticated: authenticated,
		logger:        slog.Default(),
		pollInterval:  pollInterval,
		batchSize:     defaultBatchSize,
	}
}

// Start runs the push loop until the context is cancelled
func (s *Syncer) Start(ctx context.Context) error {
	s.logger.Info("Starting syncer", "poll_interval", s.pollInterval)
	metrics.SyncerActive.Set(1)
	defer metrics.SyncerActive.Set(0)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping syncer")
			return ctx.Err()
		case <-ticker.C:
			if !s.authenticated() {
				metrics.SyncerPollCyclesTotal.WithLabelValues(metrics.OutcomeIdle).Inc()
				continue
			}

			pushed, failed := s.syncOnce(ctx)
			switch {
			case failed > 0:
				metrics.SyncerPollCyclesTotal.WithLabelValues(metrics.OutcomeError).Inc()
			case pushed > 0:
				metrics.SyncerPollCyclesTotal.WithLabelValues(metrics.OutcomePushed).Inc()
			default:
				metrics.SyncerPollCyclesTotal.WithLabelValues(metrics.OutcomeIdle).Inc()
			}
		}
	}
}

// syncOnce runs one pass over every entity, returning how many records were
// pushed and how many entities failed. A failing entity does not block the
// others.
func (s *Syncer) syncOnce(ctx context.Context) (pushed, failed int) {
	for _, entity := range []struct {
		name string
		sync func(context.Context) (int, error)
	}{
		{metrics.EntityUserPrefs, s.syncUserPrefs},
		{metrics.EntityCheckins, s.syncCheckIns},
		{metrics.EntitySessions, s.syncSessions},
		{metrics.EntityJournalEntries, s.syncJournalEntries},
		{metrics.EntityStreaks, s.syncStreaks},
	} {
		count, err := entity.sync(ctx)
		if err != nil {
			s.logger.Error("Failed to sync entity", "entity", entity.name, "error", err)
			metrics.SyncedRecordsTotal.WithLabelValues(entity.name, metrics.ResultFailure).Inc()
			failed++
			continue
		}
		if count > 0 {
			s.logger.Info("Pushed records", "entity", entity.name, "count", count)
			metrics.SyncedRecordsTotal.WithLabelValues(entity.name, metrics.ResultSuccess).Add(float64(count))
			pushed += count
		}
	}
	return pushed, failed
}

func (s *Syncer) syncUserPrefs(ctx context.Context) (int, error) {
	prefs, err := s.db.UnsyncedUserPreferences(s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(prefs) == 0 {
		return 0, nil
	}

	rows := make([]map[string]any, 0, len(prefs))
	ids := make([]int64, 0, len(prefs))
	for _, p := range prefs {
		rows = append(rows, map[string]any{
			"user_id":    p.UserID,
			"pref_key":   p.Key,
			"pref_value": p.Value,
			"updated_at": p.UpdatedAt,
		})
		ids = append(ids, p.ID)
	}

	if err := s.uploader.PushRecords(ctx, "user_prefs", rows); err != nil {
		return 0, err
	}
	if err := s.db.MarkUserPrefsSynced(ids, true); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *Syncer) syncCheckIns(ctx context.Context) (int, error) {
	checkins, err := s.db.UnsyncedCheckIns(s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(checkins) == 0 {
		return 0, nil
	}

	rows := make([]map[string]any, 0, len(checkins))
	ids := make([]string, 0, len(checkins))
	for _, c := range checkins {
		rows = append(rows, map[string]any{
			"id":          c.ID,
			"user_id":     c.UserID,
			"occurred_at": c.OccurredAt,
			"mood":        c.Mood,
			"note":        c.Note,
			"updated_at":  c.UpdatedAt,
		})
		ids = append(ids, c.ID)
	}

	if err := s.uploader.PushRecords(ctx, "checkins", rows); err != nil {
		return 0, err
	}
	if err := s.db.MarkCheckInsSynced(ids, true); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *Syncer) syncSessions(ctx context.Context) (int, error) {
	sessions, err := s.db.UnsyncedSessions(s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(sessions) == 0 {
		return 0, nil
	}

	rows := make([]map[string]any, 0, len(sessions))
	ids := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		row := map[string]any{
			"id":           sess.ID,
			"user_id":      sess.UserID,
			"started_at":   sess.StartedAt,
			"ended_at":     sess.EndedAt,
			"session_type": sess.SessionType,
			"updated_at":   sess.UpdatedAt,
		}
		if len(sess.Metadata) > 0 {
			row["metadata"] = json.RawMessage(sess.Metadata)
		}
		rows = append(rows, row)
		ids = append(ids, sess.ID)
	}

	if err := s.uploader.PushRecords(ctx, "sessions", rows); err != nil {
		return 0, err
	}
	if err := s.db.MarkSessionsSynced(ids, true); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *Syncer) syncJournalEntries(ctx context.Context) (int, error) {
	entries, err := s.db.UnsyncedJournalEntries(s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	rows := make([]map[string]any, 0, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, map[string]any{
			"id":         e.ID,
			"user_id":    e.UserID,
			"entry":      e.Entry,
			"mood":       e.Mood,
			"created_at": e.CreatedAt,
			"updated_at": e.UpdatedAt,
		})
		ids = append(ids, e.ID)
	}

	if err := s.uploader.PushRecords(ctx, "journal_entries", rows); err != nil {
		return 0, err
	}
	if err := s.db.MarkJournalEntriesSynced(ids, true); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *Syncer) syncStreaks(ctx context.Context) (int, error) {
	streaks, err := s.db.UnsyncedStreaks(s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(streaks) == 0 {
		return 0, nil
	}

	rows := make([]map[string]any, 0, len(streaks))
	ids := make([]string, 0, len(streaks))
	for _, st := range streaks {
		rows = append(rows, map[string]any{
			"id":         st.ID,
			"user_id":    st.UserID,
			"kind":       st.Kind,
			"count":      st.Count,
			"active":     st.Active,
			"updated_at": st.UpdatedAt,
		})
		ids = append(ids, st.ID)
	}

	if err := s.uploader.PushRecords(ctx, "streaks", rows); err != nil {
		return 0, err
	}
	if err := s.db.MarkStreaksSynced(ids, true); err != nil {
		return 0, err
	}
	return len(ids), nil
}

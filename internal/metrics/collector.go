package metrics

import (
	"context"
	"log/slog"
	"time"
)

// DB interface for unsynced depth queries
type DB interface {
	UnsyncedCounts() (map[string]int, error)
}

// StartUnsyncedDepthCollector starts a background goroutine that periodically
// collects per-entity unsynced row counts from the database
func StartUnsyncedDepthCollector(ctx context.Context, db DB, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	collectUnsyncedDepths(db, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Unsynced depth collector stopping")
			return
		case <-ticker.C:
			collectUnsyncedDepths(db, logger)
		}
	}
}

func collectUnsyncedDepths(db DB, logger *slog.Logger) {
	counts, err := db.UnsyncedCounts()
	if err != nil {
		logger.Error("Failed to get unsynced counts", "error", err)
		return
	}
	for entity, count := range counts {
		UnsyncedDepth.WithLabelValues(entity).Set(float64(count))
	}
}

package database

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"recenter-local/internal/metrics"
)

// ErrChecksumMismatch is returned when an already-applied migration's
// statements no longer hash to the checksum recorded in the ledger. It means
// a released migration was edited after shipping, which the migration model
// does not support.
var ErrChecksumMismatch = errors.New("migration checksum mismatch")

// Checksum returns the hex-encoded SHA-256 of the migration's statements
func (m Migration) Checksum() string {
	h := sha256.New()
	for _, stmt := range m.Statements {
		h.Write([]byte(stmt))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Migrate brings the database to the latest schema version. Each pending
// migration runs in its own transaction together with its ledger insert, so
// a failure rolls the whole migration back and it is retried cleanly on the
// next launch. Applied migrations are skipped without re-executing their
// statements, but their stored checksums are verified first.
//
// Calling Migrate again after success is a no-op.
func (db *DB) Migrate(migrations []Migration) error {
	if err := validateMigrationOrder(migrations); err != nil {
		return err
	}

	if _, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		id INTEGER PRIMARY KEY,
		checksum TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create migration ledger: %w", err)
	}

	applied, err := db.appliedMigrations()
	if err != nil {
		return err
	}

	var version int64
	for _, migration := range migrations {
		checksum := migration.Checksum()

		if recorded, ok := applied[migration.ID]; ok {
			if recorded != checksum {
				return fmt.Errorf("migration %d (%s): %w", migration.ID, migration.Description, ErrChecksumMismatch)
			}
			version = migration.ID
			continue
		}

		if err := db.applyMigration(migration, checksum); err != nil {
			metrics.MigrationFailuresTotal.Inc()
			return err
		}

		metrics.MigrationsAppliedTotal.Inc()
		version = migration.ID
	}

	metrics.SchemaVersion.Set(float64(version))
	return nil
}

// appliedMigrations reads the ledger into an id -> checksum map
func (db *DB) appliedMigrations() (map[int64]string, error) {
	rows, err := db.conn.Query("SELECT id, checksum FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration ledger: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var id int64
		var checksum string
		if err := rows.Scan(&id, &checksum); err != nil {
			return nil, fmt.Errorf("failed to scan migration ledger row: %w", err)
		}
		applied[id] = checksum
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration ledger: %w", err)
	}

	return applied, nil
}

func (db *DB) applyMigration(migration Migration, checksum string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", migration.ID, err)
	}

	for _, stmt := range migration.Statements {
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed on %q: %w",
				migration.ID, migration.Description, firstLine(stmt), err)
		}
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (id, checksum, applied_at) VALUES (?, ?, ?)",
		migration.ID, checksum, nowMillis(),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration %d: %w", migration.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.ID, err)
	}

	return nil
}

// validateMigrationOrder enforces strictly increasing ids starting at 1
func validateMigrationOrder(migrations []Migration) error {
	var prev int64
	for i, m := range migrations {
		if i == 0 && m.ID != 1 {
			return fmt.Errorf("migration list must start at id 1, got %d", m.ID)
		}
		if m.ID <= prev {
			return fmt.Errorf("migration ids must be strictly increasing: %d after %d", m.ID, prev)
		}
		prev = m.ID
	}
	return nil
}

func firstLine(stmt string) string {
	trimmed := strings.TrimSpace(stmt)
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

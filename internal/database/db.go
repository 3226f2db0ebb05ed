package database

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// Open opens a connection to the SQLite database at the specified path
func Open(path string) (*DB, error) {
	// Open the database with appropriate pragmas
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(1) // SQLite works best with a single writer
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	// Test the connection
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure WAL and foreign keys are active (redundant with DSN but ensures it's set)
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying *sql.DB connection for direct use
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Begin starts a new transaction
func (db *DB) Begin() (*sql.Tx, error) {
	return db.conn.Begin()
}

// Health checks if the database connection is healthy
func (db *DB) Health() error {
	return db.conn.Ping()
}

// Manager memoizes the open-and-migrate sequence so that all callers during
// a process lifetime share a single handle and migrations run exactly once.
// Concurrent Ensure calls converge on the same in-flight attempt; a failed
// attempt is sticky until the process restarts, matching the
// once-per-launch migration contract.
type Manager struct {
	path string
	once sync.Once
	db   *DB
	err  error
}

// NewManager creates a manager for the database at path
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Ensure opens the database and applies all pending migrations, returning
// the cached handle on every subsequent call
func (m *Manager) Ensure() (*DB, error) {
	m.once.Do(func() {
		db, err := Open(m.path)
		if err != nil {
			m.err = err
			return
		}
		if err := db.Migrate(Migrations); err != nil {
			db.Close()
			m.err = err
			return
		}
		m.db = db
	})
	return m.db, m.err
}

// RunMigrations is the process-start entry point. It is safe to call
// multiple times; after the first success it is a no-op.
func (m *Manager) RunMigrations() error {
	_, err := m.Ensure()
	return err
}

// Close closes the managed handle if it was opened
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// nowMillis returns the current time in epoch milliseconds, the timestamp
// unit used by every table in the local schema
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

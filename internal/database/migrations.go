package database

// Migration is a versioned, ordered schema change. Ids form a strictly
// increasing sequence starting at 1.
//
// Migrations are immutable once shipped: editing the statements of a
// released migration has no effect on installs that already applied it and
// is detected at startup via the stored checksum. Schema changes always get
// a new migration id.
type Migration struct {
	ID          int64
	Description string
	Statements  []string
}

// Migrations is the static, build-time list of schema migrations applied in
// ascending id order by DB.Migrate.
var Migrations = []Migration{
	{
		ID:          1,
		Description: "Initial schema for user data and cached content",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS user_prefs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id TEXT NOT NULL,
				pref_key TEXT NOT NULL,
				pref_value TEXT,
				synced INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL,
				UNIQUE(user_id, pref_key)
			)`,
			`CREATE TABLE IF NOT EXISTS checkins (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				occurred_at INTEGER NOT NULL,
				mood TEXT,
				note TEXT,
				synced INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				started_at INTEGER,
				ended_at INTEGER,
				session_type TEXT,
				metadata TEXT,
				synced INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS journal_entries (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				entry TEXT NOT NULL,
				mood TEXT,
				created_at INTEGER NOT NULL,
				synced INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS content_cache (
				id TEXT PRIMARY KEY,
				slug TEXT NOT NULL UNIQUE,
				payload TEXT NOT NULL,
				synced INTEGER NOT NULL DEFAULT 1,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS streaks (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				count INTEGER NOT NULL DEFAULT 0,
				active INTEGER NOT NULL DEFAULT 1,
				synced INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL,
				UNIQUE(user_id, kind)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_user_prefs_user ON user_prefs(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_checkins_user ON checkins(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_journal_entries_user ON journal_entries(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_streaks_user ON streaks(user_id)`,
		},
	},
}

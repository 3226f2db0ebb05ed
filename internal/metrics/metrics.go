package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Entities
	EntityUserPrefs      = "user_prefs"
	EntityCheckins       = "checkins"
	EntitySessions       = "sessions"
	EntityJournalEntries = "journal_entries"
	EntityContentCache   = "content_cache"
	EntityStreaks        = "streaks"

	// Sync results
	ResultSuccess = "success"
	ResultFailure = "failure"

	// Syncer outcomes
	OutcomePushed = "pushed"
	OutcomeIdle   = "idle"
	OutcomeError  = "error"

	// Auth operations
	AuthOpInitialize     = "initialize"
	AuthOpPasswordSignIn = "password_sign_in"
	AuthOpSignUp         = "sign_up"
	AuthOpMagicLink      = "magic_link"
	AuthOpOAuth          = "oauth"
	AuthOpSignOut        = "sign_out"
	AuthOpReloadProfile  = "reload_profile"

	// Auth outcomes
	AuthOutcomeOK            = "ok"
	AuthOutcomeError         = "error"
	AuthOutcomeOfflineCache  = "offline_cache"
	AuthOutcomeNotConfigured = "not_configured"

	// Database operations
	DBOpSavePref         = "save_pref"
	DBOpListPrefs        = "list_prefs"
	DBOpSaveCheckIn      = "save_checkin"
	DBOpListCheckIns     = "list_checkins"
	DBOpSaveSession      = "save_session"
	DBOpListSessions     = "list_sessions"
	DBOpSaveJournalEntry = "save_journal_entry"
	DBOpListJournal      = "list_journal_entries"
	DBOpSaveContent      = "save_content"
	DBOpGetContent       = "get_content"
	DBOpSaveStreak       = "save_streak"
	DBOpListStreaks      = "list_streaks"
	DBOpMarkSynced       = "mark_synced"
	DBOpListUnsynced     = "list_unsynced"
	DBOpClearAll         = "clear_all"

	// Identity API operations
	IdentityOpGetSession   = "get_session"
	IdentityOpRefreshToken = "refresh_token"
	IdentityOpSetSession   = "set_session"
	IdentityOpExchangeCode = "exchange_code"
	IdentityOpPassword     = "password"
	IdentityOpSignUp       = "sign_up"
	IdentityOpOTP          = "otp"
	IdentityOpSignOut      = "sign_out"
	IdentityOpGetProfile   = "get_profile"
	IdentityOpUpsertProf   = "upsert_profile"
	IdentityOpPushRecords  = "push_records"
)

// Database Metrics
var (
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Local database operation latency in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	DBOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total number of local database operation errors",
		},
		[]string{"operation"},
	)
)

// Migration Metrics
var (
	MigrationsAppliedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "migrations_applied_total",
			Help: "Total number of schema migrations applied",
		},
	)

	MigrationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "migration_failures_total",
			Help: "Total number of schema migration failures",
		},
	)

	SchemaVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "schema_version",
			Help: "Highest applied schema migration id",
		},
	)
)

// Auth Metrics
var (
	AuthOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Total number of auth store operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	AuthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "auth_status",
			Help: "Current auth status (1 for the active status, 0 otherwise)",
		},
		[]string{"status"},
	)
)

// Identity API Metrics
var (
	IdentityRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_requests_total",
			Help: "Total number of identity provider requests",
		},
		[]string{"operation", "status_code"},
	)

	IdentityRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "identity_request_duration_seconds",
			Help:    "Identity provider request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"operation", "status_code"},
	)
)

// Syncer Metrics
var (
	SyncerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncer_active",
			Help: "Whether the push syncer is currently active (1) or not (0)",
		},
	)

	SyncerPollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncer_poll_cycles_total",
			Help: "Total number of syncer poll cycles by outcome",
		},
		[]string{"outcome"},
	)

	SyncedRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synced_records_total",
			Help: "Total number of records pushed to the remote by entity and result",
		},
		[]string{"entity", "result"},
	)

	UnsyncedDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "unsynced_depth",
			Help: "Number of local rows not yet acknowledged by the remote",
		},
		[]string{"entity"},
	)
)

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"recenter-local/internal/authstate"
	"recenter-local/internal/config"
	"recenter-local/internal/database"
	"recenter-local/internal/identity"
	"recenter-local/internal/metrics"
	"recenter-local/internal/securestore"
	"recenter-local/internal/syncer"
)

func main() {
	// Define CLI flags
	dbSmoke := flag.Bool("db-smoke", false, "Run migrations plus a write/read pass over every table, then exit")
	migrateOnly := flag.Bool("migrate-only", false, "Apply pending schema migrations and exit")

	flag.Parse()

	switch {
	case *dbSmoke:
		runDBSmoke()
	case *migrateOnly:
		runMigrateOnly()
	default:
		runDaemon()
	}
}

func loadConfigOrExit() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runMigrateOnly() {
	// Disable structured logging for CLI
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})))

	cfg := loadConfigOrExit()

	manager := database.NewManager(cfg.DatabasePath)
	defer manager.Close()

	if err := manager.RunMigrations(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Schema is up to date (%d migrations)\n", len(database.Migrations))
}

// runDBSmoke exercises every table with a write and a read-back. It is a
// development aid for checking a fresh build against a real database file.
func runDBSmoke() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})))

	cfg := loadConfigOrExit()

	manager := database.NewManager(cfg.DatabasePath)
	defer manager.Close()

	db, err := manager.Ensure()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open database: %v\n", err)
		os.Exit(1)
	}

	if err := smokeTest(db); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Smoke test failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✓ Database smoke test passed")
}

func smokeTest(db *database.DB) error {
	const userID = "smoke-user"

	if err := db.SaveUserPreference(&database.UserPreference{UserID: userID, Key: "test_pref", Value: "on"}); err != nil {
		return err
	}
	prefs, err := db.ListUserPreferences(userID)
	if err != nil {
		return err
	}
	if len(prefs) == 0 {
		return fmt.Errorf("expected at least one preference row")
	}

	mood := "calm"
	note := "smoke"
	if _, err := db.SaveCheckIn(&database.CheckIn{UserID: userID, Mood: &mood, Note: &note}); err != nil {
		return err
	}
	checkins, err := db.ListCheckIns(userID)
	if err != nil {
		return err
	}
	if len(checkins) == 0 {
		return fmt.Errorf("expected at least one check-in row")
	}

	neutral := "neutral"
	if _, err := db.SaveJournalEntry(&database.JournalEntry{UserID: userID, Entry: "hello world", Mood: &neutral}); err != nil {
		return err
	}
	journals, err := db.ListJournalEntries(userID)
	if err != nil {
		return err
	}
	if len(journals) == 0 {
		return fmt.Errorf("expected at least one journal row")
	}

	sessionType := "breath"
	started := time.Now().UnixMilli()
	ended := started + 1000
	if _, err := db.SaveSession(&database.SessionRecord{UserID: userID, SessionType: &sessionType, StartedAt: &started, EndedAt: &ended}); err != nil {
		return err
	}
	sessions, err := db.ListSessions(userID)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return fmt.Errorf("expected at least one session row")
	}

	if _, err := db.SaveContent(&database.ContentRecord{Slug: "smoke-test", Payload: json.RawMessage(`{"hello":"world"}`), Synced: true}); err != nil {
		return err
	}
	cache, err := db.GetContent("smoke-test")
	if err != nil {
		return err
	}
	if cache == nil {
		return fmt.Errorf("expected cached content row")
	}

	if _, err := db.SaveStreak(&database.Streak{UserID: userID, Kind: "login", Count: 3}); err != nil {
		return err
	}
	streaks, err := db.ListStreaks(userID)
	if err != nil {
		return err
	}
	if len(streaks) == 0 {
		return fmt.Errorf("expected at least one streak row")
	}

	return nil
}

func runDaemon() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Set up logger
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var logOut io.Writer = os.Stdout
	if cfg.LogFile != "" {
		logOut = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting recenter-local",
		"database", cfg.DatabasePath,
		"secure_store", cfg.SecureStorePath,
		"identity_configured", cfg.HasIdentityConfig(),
		"sync_enabled", cfg.SyncEnabled,
		"log_level", cfg.LogLevel)

	// Open database and apply migrations
	manager := database.NewManager(cfg.DatabasePath)
	defer manager.Close()

	db, err := manager.Ensure()
	if err != nil {
		// Checksum drift means the binary and the database disagree about
		// history; running against such a file risks corrupting user data.
		// Other migration failures degrade to auth-only mode.
		if errors.Is(err, database.ErrChecksumMismatch) {
			logger.Error("Migration checksum drift detected, refusing to start", "error", err)
			os.Exit(1)
		}
		logger.Error("Failed to prepare database, continuing without local store", "error", err)
	} else {
		logger.Info("Database ready")
	}

	// Secure store and identity client
	secure := securestore.NewFileStore(cfg.SecureStorePath)
	client := identity.NewClient(cfg.IdentityURL, cfg.IdentityAnonKey, cfg.OAuthRedirectURI, secure, logger)

	// Restore auth state. The daemon has no browser, so OAuth flows report
	// a friendly error instead of opening one.
	auth := authstate.NewStore(client, secure, nil, logger)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	auth.Initialize(rootCtx)
	snap := auth.Snapshot()
	logger.Info("Auth state restored", "status", string(snap.Status), "needs_onboarding", snap.NeedsOnboarding)

	// Start the push syncer
	if db != nil && cfg.SyncEnabled && cfg.HasIdentityConfig() {
		sync := syncer.New(db, client, func() bool {
			return auth.Snapshot().Status == authstate.StatusAuthenticated
		}, time.Duration(cfg.SyncIntervalSecs)*time.Second)

		go func() {
			if err := sync.Start(rootCtx); err != nil && err != context.Canceled {
				logger.Error("Syncer failed", "error", err)
			}
		}()
	}

	// Start metrics server and unsynced depth collector if enabled
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		if db != nil {
			go func() {
				logger.Info("Starting unsynced depth collector")
				metrics.StartUnsyncedDepthCollector(rootCtx, db, 15*time.Second)
			}()
		}

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if db == nil {
				http.Error(w, "local store unavailable", http.StatusServiceUnavailable)
				return
			}
			if err := db.Health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	rootCancel()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Stopped")
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func setTestEnv(t *testing.T, vars map[string]string) {
	t.Helper()

	// Clear every variable Load reads so ambient values don't leak in
	for _, key := range []string{
		"CONFIG_FILE", "DATABASE_PATH", "SECURE_STORE_PATH",
		"IDENTITY_URL", "IDENTITY_ANON_KEY", "OAUTH_REDIRECT_URI",
		"SYNC_ENABLED", "SYNC_INTERVAL_SECS",
		"METRICS_ENABLED", "METRICS_HOST", "METRICS_PORT",
		"LOG_LEVEL", "LOG_FILE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	for key, value := range vars {
		t.Setenv(key, value)
	}
}

func TestLoadConfigWithDefaults(t *testing.T) {
	setTestEnv(t, nil)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.DatabasePath != "./recenter.db" {
		t.Errorf("Expected default database path './recenter.db', got %s", cfg.DatabasePath)
	}
	if cfg.SecureStorePath != "./secure_store.json" {
		t.Errorf("Expected default secure store path './secure_store.json', got %s", cfg.SecureStorePath)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log level 'info', got %s", cfg.LogLevel)
	}
	if !cfg.SyncEnabled {
		t.Error("Expected sync enabled by default")
	}
	if cfg.SyncIntervalSecs != 30 {
		t.Errorf("Expected default sync interval 30, got %d", cfg.SyncIntervalSecs)
	}
	if cfg.MetricsPort != 9464 {
		t.Errorf("Expected default metrics port 9464, got %d", cfg.MetricsPort)
	}
	if cfg.HasIdentityConfig() {
		t.Error("Expected identity config to be absent by default")
	}
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	setTestEnv(t, map[string]string{
		"DATABASE_PATH":      "/tmp/test.db",
		"IDENTITY_URL":       "https://identity.example.com",
		"IDENTITY_ANON_KEY":  "anon_key",
		"SYNC_ENABLED":       "false",
		"SYNC_INTERVAL_SECS": "5",
		"LOG_LEVEL":          "debug",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.DatabasePath != "/tmp/test.db" {
		t.Errorf("Expected database path '/tmp/test.db', got %s", cfg.DatabasePath)
	}
	if !cfg.HasIdentityConfig() {
		t.Error("Expected identity config to be present")
	}
	if cfg.SyncEnabled {
		t.Error("Expected sync disabled")
	}
	if cfg.SyncIntervalSecs != 5 {
		t.Errorf("Expected sync interval 5, got %d", cfg.SyncIntervalSecs)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level 'debug', got %s", cfg.LogLevel)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgFile := filepath.Join(tmpDir, "config.yaml")

	content := `database_path: /data/recenter.db
identity_url: https://file.example.com
identity_anon_key: file_anon_key
metrics_enabled: true
metrics_port: 9999
log_level: warn
`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	setTestEnv(t, map[string]string{
		"CONFIG_FILE": cfgFile,
		// Env should win over the file
		"LOG_LEVEL": "error",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.DatabasePath != "/data/recenter.db" {
		t.Errorf("Expected database path '/data/recenter.db', got %s", cfg.DatabasePath)
	}
	if cfg.IdentityURL != "https://file.example.com" {
		t.Errorf("Expected identity URL from file, got %s", cfg.IdentityURL)
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected metrics enabled from file")
	}
	if cfg.MetricsPort != 9999 {
		t.Errorf("Expected metrics port 9999, got %d", cfg.MetricsPort)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("Expected env to override file log level, got %s", cfg.LogLevel)
	}
}

func TestLoadConfigInvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgFile := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(cfgFile, []byte("{not yaml"), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	setTestEnv(t, map[string]string{"CONFIG_FILE": cfgFile})

	if _, err := Load(); err == nil {
		t.Error("Expected error for invalid config file")
	}
}

func TestLoadConfigRejectsNonPositiveSyncInterval(t *testing.T) {
	setTestEnv(t, map[string]string{"SYNC_INTERVAL_SECS": "-1"})

	if _, err := Load(); err == nil {
		t.Error("Expected error for negative sync interval")
	}
}

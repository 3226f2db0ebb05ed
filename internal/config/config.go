package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Local storage
	DatabasePath    string `yaml:"database_path"`
	SecureStorePath string `yaml:"secure_store_path"`

	// Identity provider (GoTrue/PostgREST-style backend)
	IdentityURL     string `yaml:"identity_url"`
	IdentityAnonKey string `yaml:"identity_anon_key"`

	// OAuth browser redirect target
	OAuthRedirectURI string `yaml:"oauth_redirect_uri"`

	// Sync
	SyncEnabled      bool `yaml:"sync_enabled"`
	SyncIntervalSecs int  `yaml:"sync_interval_secs"`

	// Metrics
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsHost    string `yaml:"metrics_host"`
	MetricsPort    int    `yaml:"metrics_port"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Load reads configuration from an optional YAML file (CONFIG_FILE) and the
// environment. Environment variables win over file values.
//
// The identity provider settings are intentionally not required: the core
// runs in a degraded local-only mode without them, and the auth layer
// surfaces the missing configuration as a user-visible error instead.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:     "./recenter.db",
		SecureStorePath:  "./secure_store.json",
		OAuthRedirectURI: "recenter://auth/callback",
		SyncEnabled:      true,
		SyncIntervalSecs: 30,
		MetricsHost:      "localhost",
		MetricsPort:      9464,
		LogLevel:         "info",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	cfg.DatabasePath = getEnv("DATABASE_PATH", cfg.DatabasePath)
	cfg.SecureStorePath = getEnv("SECURE_STORE_PATH", cfg.SecureStorePath)
	cfg.IdentityURL = getEnv("IDENTITY_URL", cfg.IdentityURL)
	cfg.IdentityAnonKey = getEnv("IDENTITY_ANON_KEY", cfg.IdentityAnonKey)
	cfg.OAuthRedirectURI = getEnv("OAUTH_REDIRECT_URI", cfg.OAuthRedirectURI)
	cfg.SyncEnabled = getEnvBool("SYNC_ENABLED", cfg.SyncEnabled)
	cfg.SyncIntervalSecs = getEnvInt("SYNC_INTERVAL_SECS", cfg.SyncIntervalSecs)
	cfg.MetricsEnabled = getEnvBool("METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsHost = getEnv("METRICS_HOST", cfg.MetricsHost)
	cfg.MetricsPort = getEnvInt("METRICS_PORT", cfg.MetricsPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	if cfg.SyncIntervalSecs <= 0 {
		return nil, fmt.Errorf("sync interval must be positive, got %d", cfg.SyncIntervalSecs)
	}

	return cfg, nil
}

// HasIdentityConfig reports whether the remote identity provider is configured
func (c *Config) HasIdentityConfig() bool {
	return c.IdentityURL != "" && c.IdentityAnonKey != ""
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all client sync-core configuration.
type Config struct {
	// Backend
	ServerURL string

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics (empty disables the endpoint)
	MetricsAddr string

	// Draft cache
	DraftDir      string
	DraftDebounce time.Duration

	// Push channel
	PushEnabled bool

	// Periodic reconciliation sweep (0 disables)
	SweepInterval time.Duration

	// Auth
	TokenFile string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ServerURL:     envOr("LORELEAF_SERVER_URL", ""),
		LogLevel:      envOr("LORELEAF_LOG_LEVEL", "info"),
		LogFormat:     envOr("LORELEAF_LOG_FORMAT", "console"),
		MetricsAddr:   envOr("LORELEAF_METRICS_ADDR", ""),
		DraftDir:      envOr("LORELEAF_DRAFT_DIR", defaultDraftDir()),
		DraftDebounce: envDuration("LORELEAF_DRAFT_DEBOUNCE", 2*time.Second),
		PushEnabled:   envBool("LORELEAF_PUSH_ENABLED", true),
		SweepInterval: envDuration("LORELEAF_SWEEP_INTERVAL", 0),
		TokenFile:     envOr("LORELEAF_TOKEN_FILE", ""),
	}

	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("LORELEAF_SERVER_URL is required")
	}

	return cfg, nil
}

func defaultDraftDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "loreleaf", "drafts")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all decisionflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string `json:"db_path"`
	LogLevel       string `json:"log_level"`
	MaxIterations  int    `json:"max_iterations"`
	DefaultTimeout string `json:"default_timeout"` // Go duration string, empty = none
	Parallel       bool   `json:"parallel_branches"`
	Scheduler      bool   `json:"scheduler"`
}

func defaultConfig() Config {
	return Config{
		DBPath:        filepath.Join(decisionflowDir(), "decisionflow.db"),
		LogLevel:      "info",
		MaxIterations: 500,
	}
}

func decisionflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".decisionflow"
	}
	return filepath.Join(home, ".decisionflow")
}

func settingsPath() string {
	return filepath.Join(decisionflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("DECISIONFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DECISIONFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DECISIONFLOW_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIterations = n
		}
	}
	if v := os.Getenv("DECISIONFLOW_DEFAULT_TIMEOUT"); v != "" {
		cfg.DefaultTimeout = v
	}
	if v := os.Getenv("DECISIONFLOW_PARALLEL"); v != "" {
		cfg.Parallel = v == "true" || v == "1"
	}
	if v := os.Getenv("DECISIONFLOW_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}

	return cfg
}

// timeout parses DefaultTimeout, returning zero on empty or invalid.
func (c Config) timeout() time.Duration {
	if c.DefaultTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.DefaultTimeout)
	if err != nil {
		return 0
	}
	return d
}

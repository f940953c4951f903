package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// ExecutorConfig declares one executor in the catalog.
type ExecutorConfig struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"` // per-executor endpoint override
}

// Config holds all ensemble server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath      string           `json:"db_path"`
	LogLevel    string           `json:"log_level"`
	PoolSize    int              `json:"pool_size"`
	ExecutorURL string           `json:"executor_url"`
	QAPassRule  string           `json:"qa_pass_rule"`
	Scheduler   bool             `json:"scheduler"`
	Executors   []ExecutorConfig `json:"executors"`
}

func defaultConfig() Config {
	return Config{
		DBPath:    filepath.Join(ensembleDir(), "ensemble.db"),
		LogLevel:  "info",
		PoolSize:  10,
		Scheduler: true,
	}
}

func ensembleDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ensemble"
	}
	return filepath.Join(home, ".ensemble")
}

func settingsPath() string {
	return filepath.Join(ensembleDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("ENSEMBLE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("ENSEMBLE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ENSEMBLE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("ENSEMBLE_EXECUTOR_URL"); v != "" {
		cfg.ExecutorURL = v
	}
	if v := os.Getenv("ENSEMBLE_QA_PASS_RULE"); v != "" {
		cfg.QAPassRule = v
	}
	if v := os.Getenv("ENSEMBLE_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}

	return cfg
}

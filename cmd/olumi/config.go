package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all olumi CLI configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	BaseURL     string `json:"base_url"`
	CachePath   string `json:"cache_path"`
	LogLevel    string `json:"log_level"`
	TimeoutSecs int    `json:"timeout_secs"`
	Stream      bool   `json:"stream"`
	Maintenance bool   `json:"maintenance"`
}

func defaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:4700",
		LogLevel:    "info",
		TimeoutSecs: 30,
	}
}

func olumiDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".olumi"
	}
	return filepath.Join(home, ".olumi")
}

func settingsPath() string {
	return filepath.Join(olumiDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("OLUMI_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("OLUMI_CACHE_PATH"); v != "" {
		cfg.CachePath = v
	}
	if v := os.Getenv("OLUMI_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("OLUMI_TIMEOUT_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TimeoutSecs = n
		}
	}
	if v := os.Getenv("OLUMI_STREAM"); v != "" {
		cfg.Stream = v == "true" || v == "1"
	}
	if v := os.Getenv("OLUMI_MAINTENANCE"); v != "" {
		cfg.Maintenance = v == "true" || v == "1"
	}

	return cfg
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

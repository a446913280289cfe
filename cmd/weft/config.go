package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all weft server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath        string `json:"db_path"`
	LogLevel      string `json:"log_level"`
	PoolSize      int    `json:"pool_size"`
	MaxIterations int    `json:"max_iterations"`
	RunTimeoutSec int    `json:"run_timeout_sec"`
	MetricsAddr   string `json:"metrics_addr"`
	Scheduler     bool   `json:"scheduler"`
}

func defaultConfig() Config {
	return Config{
		DBPath:        filepath.Join(weftDir(), "weft.db"),
		LogLevel:      "info",
		PoolSize:      10,
		MaxIterations: 0, // engine default
		RunTimeoutSec: 0, // engine default
		MetricsAddr:   "",
		Scheduler:     true,
	}
}

func weftDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".weft"
	}
	return filepath.Join(home, ".weft")
}

func settingsPath() string {
	return filepath.Join(weftDir(), "settings.json")
}

func loadConfig() (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		if err := applySettings(&cfg, data); err != nil {
			return cfg, fmt.Errorf("%s: %w", settingsPath(), err)
		}
	}

	// Layer 3: env vars override.
	if v := os.Getenv("WEFT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("WEFT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WEFT_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("WEFT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIterations = n
		}
	}
	if v := os.Getenv("WEFT_RUN_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RunTimeoutSec = n
		}
	}
	if v := os.Getenv("WEFT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("WEFT_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}

	return cfg, nil
}

// applySettings decodes a settings document over the config. Unknown
// keys are a hard error: a typo silently falling back to a default is
// worse than a refused start.
func applySettings(cfg *Config, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// Overrides reports every setting that differs from its default, keyed
// by its settings.json name. Logged once at startup so a run's
// effective configuration is visible in the log.
func (c Config) Overrides() map[string]any {
	def := defaultConfig()
	out := make(map[string]any)
	if c.DBPath != def.DBPath {
		out["db_path"] = c.DBPath
	}
	if c.LogLevel != def.LogLevel {
		out["log_level"] = c.LogLevel
	}
	if c.PoolSize != def.PoolSize {
		out["pool_size"] = c.PoolSize
	}
	if c.MaxIterations != def.MaxIterations {
		out["max_iterations"] = c.MaxIterations
	}
	if c.RunTimeoutSec != def.RunTimeoutSec {
		out["run_timeout_sec"] = c.RunTimeoutSec
	}
	if c.MetricsAddr != def.MetricsAddr {
		out["metrics_addr"] = c.MetricsAddr
	}
	if c.Scheduler != def.Scheduler {
		out["scheduler"] = c.Scheduler
	}
	return out
}

// RunTimeout converts the configured timeout to a duration. Zero means
// the engine default applies.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSec) * time.Second
}

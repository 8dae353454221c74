package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// duration accepts YAML values like "30s" or "5m".
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = duration(parsed)
	return nil
}

// fileConfig is the on-disk daemon configuration. Every field has a
// working default so an empty file (or no file) starts a memory-backed
// development instance.
type fileConfig struct {
	Listen   string `yaml:"listen"`
	AdminKey string `yaml:"admin_key"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Store struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`

	Results struct {
		Endpoint  string `yaml:"endpoint"`
		AuthToken string `yaml:"auth_token"`
	} `yaml:"results"`

	Reaper struct {
		Interval       duration `yaml:"interval"`
		StaleThreshold duration `yaml:"stale_threshold"`
	} `yaml:"reaper"`

	Dispatcher struct {
		Interval duration `yaml:"interval"`
	} `yaml:"dispatcher"`

	PollLimit struct {
		PerSecond float64 `yaml:"per_second"`
		Burst     int     `yaml:"burst"`
	} `yaml:"poll_limit"`

	ShutdownTimeout duration `yaml:"shutdown_timeout"`
}

func defaultConfig() fileConfig {
	var cfg fileConfig
	cfg.Listen = ":8080"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Store.Driver = "memory"
	cfg.Reaper.Interval = duration(60 * time.Second)
	cfg.Reaper.StaleThreshold = duration(5 * time.Minute)
	cfg.Dispatcher.Interval = duration(15 * time.Second)
	cfg.PollLimit.PerSecond = 2
	cfg.PollLimit.Burst = 5
	cfg.ShutdownTimeout = duration(30 * time.Second)
	return cfg
}

// loadConfig reads the YAML file at path (if any) and applies
// environment overrides. Environment wins over file, file over
// defaults.
func loadConfig(path string) (fileConfig, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("VOXGRID_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("VOXGRID_ADMIN_KEY"); v != "" {
		cfg.AdminKey = v
	}
	if v := os.Getenv("VOXGRID_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("VOXGRID_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("VOXGRID_RESULTS_ENDPOINT"); v != "" {
		cfg.Results.Endpoint = v
	}
	if v := os.Getenv("VOXGRID_RESULTS_TOKEN"); v != "" {
		cfg.Results.AuthToken = v
	}

	switch cfg.Store.Driver {
	case "memory":
	case "postgres":
		if cfg.Store.DSN == "" {
			return cfg, fmt.Errorf("store driver %q needs a dsn", cfg.Store.Driver)
		}
	default:
		return cfg, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	return cfg, nil
}

func (c fileConfig) buildLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(c.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxgridd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8080" || cfg.Store.Driver != "memory" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Reaper.StaleThreshold != duration(5*time.Minute) {
		t.Errorf("stale threshold = %v", cfg.Reaper.StaleThreshold)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
admin_key: ops-key
store:
  driver: postgres
  dsn: postgres://test@localhost/voxgrid
reaper:
  interval: 30s
  stale_threshold: 2m
dispatcher:
  interval: 5s
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9090" || cfg.AdminKey != "ops-key" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN == "" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Reaper.Interval != duration(30*time.Second) || cfg.Reaper.StaleThreshold != duration(2*time.Minute) {
		t.Fatalf("reaper = %+v", cfg.Reaper)
	}
	if cfg.Dispatcher.Interval != duration(5*time.Second) {
		t.Fatalf("dispatcher = %+v", cfg.Dispatcher)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: memory
`)
	t.Setenv("VOXGRID_STORE_DRIVER", "postgres")
	t.Setenv("VOXGRID_DSN", "postgres://env@localhost/voxgrid")
	t.Setenv("VOXGRID_LISTEN", ":7070")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://env@localhost/voxgrid" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Listen != ":7070" {
		t.Fatalf("listen = %q", cfg.Listen)
	}
}

func TestLoadConfigRejectsBadDriver(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: cassandra
`)
	if _, err := loadConfig(path); err == nil {
		t.Fatal("loadConfig() = nil error for unknown driver")
	}
}

func TestLoadConfigPostgresNeedsDSN(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: postgres
`)
	if _, err := loadConfig(path); err == nil {
		t.Fatal("loadConfig() = nil error for postgres without dsn")
	}
}

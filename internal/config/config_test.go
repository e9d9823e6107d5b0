package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(FileEnvVar, "")
	t.Setenv("PIXELCONV_API_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Addr != ":8080" {
		t.Fatalf("expected default api addr, got %s", cfg.API.Addr)
	}
	if cfg.Database.Driver != "memory" {
		t.Fatalf("expected memory job store by default, got %s", cfg.Database.Driver)
	}
	if cfg.Worker.MaxActiveJobs < 1 {
		t.Fatalf("expected at least one worker slot, got %d", cfg.Worker.MaxActiveJobs)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixelconv.yaml")
	body := []byte(`
api:
  addr: ":9999"
  presign_ttl: 5m
queue:
  name: conversions
rate_limit:
  capacity: 5
  window: 10s
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(FileEnvVar, path)
	t.Setenv("ASYNC_QUEUE", "priority")
	t.Setenv("RATE_LIMIT_CAPACITY", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Addr != ":9999" {
		t.Fatalf("expected file api addr, got %s", cfg.API.Addr)
	}
	if cfg.API.PresignTTL != 5*time.Minute {
		t.Fatalf("expected presign ttl 5m, got %s", cfg.API.PresignTTL)
	}
	if cfg.Queue.Name != "priority" {
		t.Fatalf("expected env to override queue name, got %s", cfg.Queue.Name)
	}
	if cfg.RateLimit.Capacity != 5 {
		t.Fatalf("expected invalid env value to keep file capacity, got %d", cfg.RateLimit.Capacity)
	}
	if cfg.Storage.Bucket != "pixelconv-jobs" {
		t.Fatalf("expected untouched default bucket, got %s", cfg.Storage.Bucket)
	}
}

func TestLoadRejectsUnknownFileKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("api:\n  adr: typo\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(FileEnvVar, path)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown config key")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv(FileEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

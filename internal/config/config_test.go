package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `pointer:
  name: bundles/current
  endpoint: https://control.example.com
artifact:
  backend: http
  endpoint: https://artifacts.example.com
workload:
  root: /opt/workload
  up: ["docker", "compose", "up", "-d", "-f"]
  down: ["docker", "compose", "down"]
preemption:
  poll_interval_seconds: 3
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pointer.Name != "bundles/current" {
		t.Errorf("pointer name = %q", cfg.Pointer.Name)
	}
	if cfg.Workload.Root != "/opt/workload" {
		t.Errorf("workload root = %q", cfg.Workload.Root)
	}
	if cfg.PollInterval() != 3*time.Second {
		t.Errorf("poll interval = %v", cfg.PollInterval())
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("pointer:\n  endpoint: http://cp\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pointer.Name != "current" {
		t.Errorf("default pointer name = %q", cfg.Pointer.Name)
	}
	if cfg.Workload.Marker != ".materialized" {
		t.Errorf("default marker = %q", cfg.Workload.Marker)
	}
	if cfg.PollInterval() != 5*time.Second {
		t.Errorf("default poll interval = %v", cfg.PollInterval())
	}
	if cfg.ShutdownTimeout() != 90*time.Second {
		t.Errorf("default shutdown timeout = %v", cfg.ShutdownTimeout())
	}
	if cfg.QuiesceIdle() != 10*time.Minute {
		t.Errorf("default quiesce idle = %v", cfg.QuiesceIdle())
	}
	// Poll interval must stay well under the shutdown budget and idle window.
	if cfg.PollInterval() >= cfg.ShutdownTimeout() || cfg.ShutdownTimeout() >= cfg.QuiesceIdle() {
		t.Errorf("default durations not ordered: %v %v %v", cfg.PollInterval(), cfg.ShutdownTimeout(), cfg.QuiesceIdle())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RELAY_CONFIG_DIR", dir)

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxIterations != 10 {
		t.Fatalf("default max_iterations = %d, want 10", cfg.MaxIterations)
	}
	if cfg.BashTimeoutMillis != 30000 {
		t.Fatalf("default bash_timeout_ms = %d, want 30000", cfg.BashTimeoutMillis)
	}
	if cfg.ListenAddr == "" {
		t.Fatal("listen_addr default missing")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("max_iterations: 500\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for max_iterations=500")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Config{Model: "test-model", MaxIterations: 4}
	cfg.applyDefaults()
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Model != "test-model" {
		t.Fatalf("model = %q, want test-model", loaded.Model)
	}
	if loaded.MaxIterations != 4 {
		t.Fatalf("max_iterations = %d, want 4", loaded.MaxIterations)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	def := Default()
	if cfg.DataDir != def.DataDir || cfg.WebAddr != def.WebAddr || cfg.ScopeCacheSize != def.ScopeCacheSize {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
	if cfg.Trace.Calls || cfg.Trace.Registry || cfg.Trace.Internal {
		t.Error("Expected trace toggles off by default")
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shim.yaml")
	content := `
trace:
  calls: true
  internal: true
data_dir: /var/lib/shim
scope_cache_size: 8
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Trace.Calls || cfg.Trace.Registry || !cfg.Trace.Internal {
		t.Errorf("Unexpected trace toggles: %+v", cfg.Trace)
	}
	if cfg.DataDir != "/var/lib/shim" {
		t.Errorf("Expected data_dir overlay, got %q", cfg.DataDir)
	}
	if cfg.ScopeCacheSize != 8 {
		t.Errorf("Expected scope_cache_size 8, got %d", cfg.ScopeCacheSize)
	}
	// Untouched keys keep their defaults.
	if cfg.WebAddr != Default().WebAddr {
		t.Errorf("Expected default web_addr, got %q", cfg.WebAddr)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("trace: ["), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected an error for malformed YAML")
	}
}

func TestLoadClampsScopeCacheSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shim.yaml")
	if err := os.WriteFile(path, []byte("scope_cache_size: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ScopeCacheSize != Default().ScopeCacheSize {
		t.Errorf("Expected clamped default, got %d", cfg.ScopeCacheSize)
	}
}

func TestWatchAppliesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shim.yaml")
	if err := os.WriteFile(path, []byte("data_dir: before\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	applied := make(chan *Config, 4)
	watcher, err := Watch(path, func(c *Config) { applied <- c })
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer watcher.Close()

	if err := os.WriteFile(path, []byte("data_dir: after\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-applied:
			if cfg.DataDir == "after" {
				return
			}
		case <-deadline:
			t.Fatal("Timed out waiting for reload")
		}
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers.Count != 0 || cfg.Workers.SpinBurst != 256 {
		t.Fatalf("unexpected defaults: %+v", cfg.Workers)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Workers.Count = 8
	cfg.Debug.Trace = true

	if err := Save(cfg, dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Workers.Count != 8 {
		t.Fatalf("Workers.Count = %d, want 8", got.Workers.Count)
	}
	if !got.Debug.Trace {
		t.Fatal("Debug.Trace should have round-tripped true")
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, []byte("workers:\n  count: 3\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers.Count != 3 {
		t.Fatalf("Workers.Count = %d, want 3", cfg.Workers.Count)
	}
	if cfg.Workers.SpinBurst != 256 {
		t.Fatalf("SpinBurst should have defaulted, got %d", cfg.Workers.SpinBurst)
	}
	if cfg.Pool == nil || cfg.Pool.UnboundedChunk != 32 {
		t.Fatalf("Pool should have defaulted, got %+v", cfg.Pool)
	}
	if cfg.Debug == nil {
		t.Fatal("Debug should have defaulted")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	if err := Save(cfg, dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(dir, func(c *Config) { reloaded <- c })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	cfg.Workers.Count = 16
	if err := Save(cfg, dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	select {
	case got := <-reloaded:
		if got.Workers.Count != 16 {
			t.Fatalf("reloaded Workers.Count = %d, want 16", got.Workers.Count)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never reloaded after file write")
	}
}

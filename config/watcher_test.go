package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, path string) (<-chan *Config, context.CancelFunc) {
	t.Helper()

	got := make(chan *Config, 1)
	w, err := NewWatcher(path, nil, func(c *Config) { got <- c })
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	return got, cancel
}

func TestWatcherMissingFile(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil, nil)
	if err == nil {
		t.Fatal("expected error for a path that does not exist")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), ProjectConfigFile)
	writeConfigFile(t, path, "review:\n  concurrency: 2\n")

	got, cancel := startWatcher(t, path)
	defer cancel()

	writeConfigFile(t, path, "review:\n  concurrency: 7\n")

	select {
	case cfg := <-got:
		if cfg.Review.Concurrency != 7 {
			t.Errorf("concurrency = %d, want 7", cfg.Review.Concurrency)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within timeout")
	}
}

func TestWatcherSkipsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ProjectConfigFile)
	writeConfigFile(t, path, "review:\n  concurrency: 2\n")

	got, cancel := startWatcher(t, path)
	defer cancel()

	// Validation rejects this; the callback must not fire for it.
	writeConfigFile(t, path, "model:\n  temperature: 9.0\n")
	time.Sleep(2 * debounceWindow)

	select {
	case cfg := <-got:
		t.Fatalf("invalid config must be skipped, got concurrency %d", cfg.Review.Concurrency)
	default:
	}

	// The watcher keeps running and picks up the next valid write.
	writeConfigFile(t, path, "review:\n  concurrency: 5\n")

	select {
	case cfg := <-got:
		if cfg.Review.Concurrency != 5 {
			t.Errorf("concurrency = %d, want 5", cfg.Review.Concurrency)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher stopped after an invalid config")
	}
}

func TestWatcherStopsOnContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), ProjectConfigFile)
	writeConfigFile(t, path, "review:\n  concurrency: 2\n")

	w, err := NewWatcher(path, nil, nil)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

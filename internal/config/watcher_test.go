package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const watcherYAML = `
providers:
  llm:
    name: ollama
  geocoder:
    primary:
      name: nominatim
pipeline:
  target_jurisdictions:
    - Hartford County
  default_state: CT
`

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestWatcherInitialLoad(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, t.TempDir(), watcherYAML)

	w, err := NewWatcher(path, nil, WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() = nil")
	}
	if cfg.Pipeline.DefaultState != "CT" {
		t.Errorf("DefaultState = %q, want %q", cfg.Pipeline.DefaultState, "CT")
	}
}

func TestWatcherInitialLoadInvalid(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, t.TempDir(), "providers: {llm: {name: ollama}}")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("NewWatcher() error = nil, want validation error")
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, t.TempDir(), watcherYAML)

	var mu sync.Mutex
	var gotOld, gotNew *Config
	changed := make(chan struct{}, 1)

	w, err := NewWatcher(path, func(old, new *Config) {
		mu.Lock()
		gotOld, gotNew = old, new
		mu.Unlock()
		changed <- struct{}{}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	updated := watcherYAML + "server:\n  log_level: debug\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the change")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld == nil || gotNew == nil {
		t.Fatal("onChange called with nil config")
	}
	if gotOld.Server.LogLevel != "" {
		t.Errorf("old log level = %q, want empty", gotOld.Server.LogLevel)
	}
	if gotNew.Server.LogLevel != LogDebug {
		t.Errorf("new log level = %q, want %q", gotNew.Server.LogLevel, LogDebug)
	}
	if w.Current() != gotNew {
		t.Error("Current() does not return the reloaded config")
	}
}

func TestWatcherKeepsOldConfigOnInvalidRewrite(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, t.TempDir(), watcherYAML)

	w, err := NewWatcher(path, func(old, new *Config) {
		t.Error("onChange must not fire for an invalid rewrite")
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("not: [valid"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	if cfg := w.Current(); cfg.Pipeline.DefaultState != "CT" {
		t.Errorf("Current().Pipeline.DefaultState = %q, want previous config retained", cfg.Pipeline.DefaultState)
	}
}

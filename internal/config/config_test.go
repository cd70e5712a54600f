package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestDefaultDaemonConfig(t *testing.T) {
	cfg := DefaultDaemonConfig()

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if !cfg.Logging.Sanitize {
		t.Error("Logging.Sanitize = false, want true")
	}
	if cfg.Pool.KeepTTL != 12*time.Hour {
		t.Errorf("Pool.KeepTTL = %v, want %v", cfg.Pool.KeepTTL, 12*time.Hour)
	}
	if cfg.Pool.ShareTTL != 5*time.Second {
		t.Errorf("Pool.ShareTTL = %v, want %v", cfg.Pool.ShareTTL, 5*time.Second)
	}
	if cfg.Keepalive.Interval != 10*time.Second {
		t.Errorf("Keepalive.Interval = %v, want %v", cfg.Keepalive.Interval, 10*time.Second)
	}
	if cfg.Keepalive.Misses != 3 {
		t.Errorf("Keepalive.Misses = %d, want 3", cfg.Keepalive.Misses)
	}
	if cfg.HandshakeTimeout != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v, want %v", cfg.HandshakeTimeout, 10*time.Second)
	}
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()

	if cfg.BootstrapTimeout != 2*time.Second {
		t.Errorf("BootstrapTimeout = %v, want %v", cfg.BootstrapTimeout, 2*time.Second)
	}
	if cfg.BootstrapPoll != 10*time.Millisecond {
		t.Errorf("BootstrapPoll = %v, want %v", cfg.BootstrapPoll, 10*time.Millisecond)
	}
}

func TestLoadDaemonConfigEmptyPath(t *testing.T) {
	cfg, err := LoadDaemonConfig("")
	if err != nil {
		t.Fatalf("LoadDaemonConfig(\"\") error: %v", err)
	}
	if cfg.Pool.KeepTTL != 12*time.Hour {
		t.Errorf("Pool.KeepTTL = %v, want default %v", cfg.Pool.KeepTTL, 12*time.Hour)
	}
}

func TestLoadDaemonConfigMissingFile(t *testing.T) {
	cfg, err := LoadDaemonConfig("/nonexistent/path/daemon.yaml")
	if err != nil {
		t.Fatalf("LoadDaemonConfig(missing) error: %v, want nil (defaults)", err)
	}
	if cfg.Pool.ShareTTL != 5*time.Second {
		t.Errorf("Pool.ShareTTL = %v, want default %v", cfg.Pool.ShareTTL, 5*time.Second)
	}
}

func TestLoadDaemonConfigInvalidYAML(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "bad.yaml")
	if err := os.WriteFile(path, []byte(":::invalid:::yaml{{{"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadDaemonConfig(path)
	if err == nil {
		t.Fatal("LoadDaemonConfig(invalid YAML) expected error, got nil")
	}
}

func TestLoadDaemonConfigValid(t *testing.T) {
	yamlDoc := `
logging:
  level: debug
  sanitize: false
pool:
  keep_ttl: 1h
  share_ttl: 30s
keepalive:
  interval: 5s
  misses: 5
handshake_timeout: 15s
max_connections: 50
`
	tmp := t.TempDir()
	path := filepath.Join(tmp, "daemon.yaml")
	if err := os.WriteFile(path, []byte(yamlDoc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadDaemonConfig(path)
	if err != nil {
		t.Fatalf("LoadDaemonConfig() error: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Sanitize {
		t.Error("Logging.Sanitize = true, want false")
	}
	if cfg.Pool.KeepTTL != time.Hour {
		t.Errorf("Pool.KeepTTL = %v, want %v", cfg.Pool.KeepTTL, time.Hour)
	}
	if cfg.Pool.ShareTTL != 30*time.Second {
		t.Errorf("Pool.ShareTTL = %v, want %v", cfg.Pool.ShareTTL, 30*time.Second)
	}
	if cfg.Keepalive.Interval != 5*time.Second {
		t.Errorf("Keepalive.Interval = %v, want %v", cfg.Keepalive.Interval, 5*time.Second)
	}
	if cfg.Keepalive.Misses != 5 {
		t.Errorf("Keepalive.Misses = %d, want 5", cfg.Keepalive.Misses)
	}
	if cfg.HandshakeTimeout != 15*time.Second {
		t.Errorf("HandshakeTimeout = %v, want %v", cfg.HandshakeTimeout, 15*time.Second)
	}
	if cfg.MaxConnections != 50 {
		t.Errorf("MaxConnections = %d, want 50", cfg.MaxConnections)
	}
}

func TestLoadDaemonConfigPartial(t *testing.T) {
	yamlDoc := `
logging:
  level: warn
`
	tmp := t.TempDir()
	path := filepath.Join(tmp, "partial.yaml")
	if err := os.WriteFile(path, []byte(yamlDoc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadDaemonConfig(path)
	if err != nil {
		t.Fatalf("LoadDaemonConfig() error: %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "warn")
	}
	// YAML unmarshal onto a pre-populated struct overwrites only the keys
	// present in the document, so unset fields keep their defaults.
	if cfg.Pool.KeepTTL != 12*time.Hour {
		t.Errorf("Pool.KeepTTL = %v, want default %v", cfg.Pool.KeepTTL, 12*time.Hour)
	}
}

func TestDaemonConfigValidateFixesZeroTTLs(t *testing.T) {
	cfg := DefaultDaemonConfig()
	cfg.Pool.KeepTTL = 0
	cfg.Pool.ShareTTL = 0
	cfg.Keepalive.Interval = 0
	cfg.Keepalive.Misses = 0
	cfg.HandshakeTimeout = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	if cfg.Pool.KeepTTL != 12*time.Hour {
		t.Errorf("Pool.KeepTTL = %v, want corrected %v", cfg.Pool.KeepTTL, 12*time.Hour)
	}
	if cfg.Pool.ShareTTL != 5*time.Second {
		t.Errorf("Pool.ShareTTL = %v, want corrected %v", cfg.Pool.ShareTTL, 5*time.Second)
	}
	if cfg.Keepalive.Misses != 3 {
		t.Errorf("Keepalive.Misses = %d, want corrected 3", cfg.Keepalive.Misses)
	}
}

func TestDaemonConfigValidateRejectsNegativeMaxConnections(t *testing.T) {
	cfg := DefaultDaemonConfig()
	cfg.MaxConnections = -1

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for negative max_connections, got nil")
	}
}

func TestClientConfigValidateFixesZeroDurations(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.BootstrapTimeout = 0
	cfg.BootstrapPoll = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.BootstrapTimeout != 2*time.Second {
		t.Errorf("BootstrapTimeout = %v, want corrected %v", cfg.BootstrapTimeout, 2*time.Second)
	}
	if cfg.BootstrapPoll != 10*time.Millisecond {
		t.Errorf("BootstrapPoll = %v, want corrected %v", cfg.BootstrapPoll, 10*time.Millisecond)
	}
}

// --- Watcher tests ---

func writeTestConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestNewWatcher(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "daemon.yaml")
	writeTestConfigFile(t, path, "logging:\n  level: info\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	cfg := w.Config()
	if cfg.Logging.Level != "info" {
		t.Errorf("Config().Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestWatcherReloadsOnFileChange(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "daemon.yaml")
	writeTestConfigFile(t, path, "logging:\n  level: info\n")

	var mu sync.Mutex
	var changed *DaemonConfig

	w, err := NewWatcher(path, func(cfg *DaemonConfig) {
		mu.Lock()
		changed = cfg
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	writeTestConfigFile(t, path, "logging:\n  level: debug\n")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		c := changed
		mu.Unlock()
		if c != nil && c.Logging.Level == "debug" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	cfg := w.Config()
	if cfg.Logging.Level != "debug" {
		t.Errorf("Config().Logging.Level = %q after reload, want %q", cfg.Logging.Level, "debug")
	}
}

func TestWatcherReloadInvalidConfigPreservesPrevious(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "daemon.yaml")
	writeTestConfigFile(t, path, "logging:\n  level: info\n")

	callCount := 0
	var mu sync.Mutex

	w, err := NewWatcher(path, func(cfg *DaemonConfig) {
		mu.Lock()
		callCount++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	writeTestConfigFile(t, path, ":::invalid{{{")
	time.Sleep(500 * time.Millisecond)

	cfg := w.Config()
	if cfg.Logging.Level != "info" {
		t.Errorf("Config().Logging.Level = %q, want %q (preserved after bad reload)", cfg.Logging.Level, "info")
	}

	mu.Lock()
	if callCount > 0 {
		t.Errorf("onChange was called %d times, want 0 (invalid config should not trigger)", callCount)
	}
	mu.Unlock()
}

func TestWatcherClose(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "daemon.yaml")
	writeTestConfigFile(t, path, "logging:\n  level: info\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

// Package config handles configuration parsing for the ssh-bridge daemon
// and its reference client.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/acolita/ssh-bridge/internal/adapters/realfs"
	"github.com/acolita/ssh-bridge/internal/ports"
	"gopkg.in/yaml.v3"
)

// defaultFS is the FileSystem used when a caller doesn't inject one (tests
// inject fakefs; production code never needs to).
var defaultFS ports.FileSystem = realfs.New()

// DefaultConfigDir returns <home>/.ssh-bridge: the directory that holds the
// daemon's socket/pipe, its lock file, its log file, and both config files
// below. The caller is responsible for creating it (mode 0700) on first
// use; the daemon itself refuses to start if it is missing.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh-bridge")
}

// LoggingConfig defines logging settings shared by the daemon and the CLI.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // redact credential-shaped log attributes
}

// PoolConfig tunes the daemon's idle-session retention.
type PoolConfig struct {
	KeepTTL  time.Duration `yaml:"keep_ttl"`  // retention for a "keep"-relinquished session
	ShareTTL time.Duration `yaml:"share_ttl"` // retention for a "share"-relinquished session
}

// KeepaliveConfig tunes the SSH adapter's liveness probing.
type KeepaliveConfig struct {
	Interval time.Duration `yaml:"interval"` // time between keepalive@openssh.com requests
	Misses   int           `yaml:"misses"`   // consecutive unanswered requests before disconnect
}

// DaemonConfig is the top-level daemon configuration, `<configDir>/daemon.yaml`.
type DaemonConfig struct {
	Logging          LoggingConfig   `yaml:"logging"`
	Pool             PoolConfig      `yaml:"pool"`
	Keepalive        KeepaliveConfig `yaml:"keepalive"`
	HandshakeTimeout time.Duration   `yaml:"handshake_timeout"`
	MaxConnections   int             `yaml:"max_connections"` // validated (must not be negative); no connection limit is enforced from it
}

// ClientConfig is the reference client configuration, `<configDir>/client.yaml`.
type ClientConfig struct {
	Logging          LoggingConfig `yaml:"logging"`
	DaemonPath       string        `yaml:"daemon_path"`       // path to the ssh-bridged binary; empty resolves alongside the CLI
	BootstrapTimeout time.Duration `yaml:"bootstrap_timeout"` // how long EnsureDaemon polls for the socket to come up
	BootstrapPoll    time.Duration `yaml:"bootstrap_poll"`    // interval between bootstrap polls
}

// DefaultDaemonConfig returns the daemon's default configuration.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
		Pool: PoolConfig{
			KeepTTL:  12 * time.Hour,
			ShareTTL: 5 * time.Second,
		},
		Keepalive: KeepaliveConfig{
			Interval: 10 * time.Second,
			Misses:   3,
		},
		HandshakeTimeout: 10 * time.Second,
	}
}

// DefaultClientConfig returns the client's default configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
		BootstrapTimeout: 2 * time.Second,
		BootstrapPoll:    10 * time.Millisecond,
	}
}

// LoadDaemonConfig loads the daemon configuration from a YAML file. An
// optional FileSystem can be passed for testing; if omitted, the real OS is
// used. A missing file is not an error: it yields the default configuration.
func LoadDaemonConfig(path string, fsys ...ports.FileSystem) (*DaemonConfig, error) {
	cfg := DefaultDaemonConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := readConfigFile(path, fsys...)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read daemon config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse daemon config: %w", err)
	}
	return cfg, nil
}

// LoadClientConfig loads the client configuration the same way LoadDaemonConfig does.
func LoadClientConfig(path string, fsys ...ports.FileSystem) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := readConfigFile(path, fsys...)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read client config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse client config: %w", err)
	}
	return cfg, nil
}

func readConfigFile(path string, fsys ...ports.FileSystem) ([]byte, error) {
	fs := defaultFS
	if len(fsys) > 0 && fsys[0] != nil {
		fs = fsys[0]
	}
	return fs.ReadFile(path)
}

// Validate checks the daemon configuration, correcting recoverable defaults
// the way the teacher's Config.Validate does for its session limits.
func (c *DaemonConfig) Validate() error {
	if c.Pool.KeepTTL <= 0 {
		c.Pool.KeepTTL = 12 * time.Hour
	}
	if c.Pool.ShareTTL <= 0 {
		c.Pool.ShareTTL = 5 * time.Second
	}
	if c.Keepalive.Interval <= 0 {
		c.Keepalive.Interval = 10 * time.Second
	}
	if c.Keepalive.Misses <= 0 {
		c.Keepalive.Misses = 3
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative")
	}
	return nil
}

// Validate checks the client configuration.
func (c *ClientConfig) Validate() error {
	if c.BootstrapTimeout <= 0 {
		c.BootstrapTimeout = 2 * time.Second
	}
	if c.BootstrapPoll <= 0 {
		c.BootstrapPoll = 10 * time.Millisecond
	}
	return nil
}

// SaveDaemonConfig writes cfg to path as YAML. An optional FileSystem can be
// passed for testing; if omitted, the real OS is used.
func SaveDaemonConfig(cfg *DaemonConfig, path string, fsys ...ports.FileSystem) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal daemon config: %w", err)
	}
	return writeConfigFile(path, data, fsys...)
}

// SaveClientConfig writes cfg to path as YAML.
func SaveClientConfig(cfg *ClientConfig, path string, fsys ...ports.FileSystem) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal client config: %w", err)
	}
	return writeConfigFile(path, data, fsys...)
}

func writeConfigFile(path string, data []byte, fsys ...ports.FileSystem) error {
	fs := defaultFS
	if len(fsys) > 0 && fsys[0] != nil {
		fs = fsys[0]
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return fs.WriteFile(path, data, 0644)
}

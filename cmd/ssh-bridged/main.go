// ssh-bridged is the daemon: it brokers pooled SSH sessions for short-lived
// client processes over a local Unix domain socket or Windows named pipe.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/acolita/ssh-bridge/internal/config"
	"github.com/acolita/ssh-bridge/internal/daemon"
	"github.com/acolita/ssh-bridge/internal/logging"
)

// Version information - set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configDir   string
		showVersion bool
		debug       bool
	)

	flag.StringVar(&configDir, "config-dir", "", "Directory holding daemon.yaml, the lock file, the socket, and the log")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if showVersion {
		fmt.Printf("ssh-bridged version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		os.Exit(0)
	}

	if configDir == "" && flag.NArg() > 0 {
		configDir = flag.Arg(0)
	}
	if configDir == "" {
		configDir = config.DefaultConfigDir()
	}
	if configDir == "" {
		fmt.Fprintln(os.Stderr, "ssh-bridged: could not determine a config directory; pass -config-dir")
		os.Exit(1)
	}
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "ssh-bridged: config directory %s does not exist; the caller must create it first\n", configDir)
		os.Exit(1)
	}

	configPath := filepath.Join(configDir, "daemon.yaml")
	cfg, err := config.LoadDaemonConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ssh-bridged: load config: %v\n", err)
		os.Exit(1)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "ssh-bridged: invalid config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize)
	slog.Info("starting ssh-bridged", slog.String("version", Version), slog.String("config_dir", configDir))

	lockPath := filepath.Join(configDir, "lock")
	lock, err := daemon.AcquireLock(lockPath)
	if err != nil {
		if err == daemon.ErrAlreadyRunning {
			slog.Error("another ssh-bridged instance already holds the lock", slog.String("lock_path", lockPath))
			os.Exit(1)
		}
		slog.Error("acquire instance lock", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer lock.Release()

	listener, err := daemon.Listen(configDir)
	if err != nil {
		slog.Error("listen", slog.String("error", err.Error()))
		os.Exit(1)
	}

	server := daemon.NewServer(listener, cfg)

	var watcher *config.Watcher
	watcher, err = config.NewWatcher(configPath, func(newCfg *config.DaemonConfig) {
		if debug {
			newCfg.Logging.Level = "debug"
		}
		logging.Setup(newCfg.Logging.Level, newCfg.Logging.Sanitize)
	})
	if err != nil {
		slog.Warn("config hot-reload disabled", slog.String("error", err.Error()))
	} else {
		defer watcher.Close()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigChan
		slog.Info("received shutdown signal", slog.String("signal", sig.String()))
		server.Shutdown()
	}()

	if err := server.Run(); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("ssh-bridged stopped")
}

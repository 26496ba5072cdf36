// Package app provides the shared entry point for the toolgate binary.
package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flemzord/toolgate/internal/config"
	"github.com/flemzord/toolgate/internal/reload"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the persistent data directory.
	DataDir string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level
}

// LoadConfig resolves, loads and validates the configuration file.
func LoadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = resolved
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Run loads configuration, starts all modules, and blocks until a shutdown
// signal is received. SIGHUP reloads the tool approval policy.
func Run(params RunParams) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	rt, err := start(context.Background(), params)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			rt.Logger.Info("SIGHUP received, reloading tool policy")
			if err := rt.Reloader.Reload(context.Background()); err != nil {
				rt.Logger.Error("reload failed", "error", err)
			}
			continue
		}
		rt.Logger.Info("shutdown signal received", "signal", sig.String())
		break
	}
	rt.App.Stop()
	rt.Logger.Info("shutdown complete")
	return nil
}

// start builds a Runtime with modules, attaches the config file watcher
// and starts its lifecycle.
func start(ctx context.Context, params RunParams) (*Runtime, error) {
	cfg, cfgPath, err := LoadConfig(params.ConfigPath)
	if err != nil {
		return nil, err
	}
	rt, err := Build(ctx, cfg, Options{
		Version:     params.Version,
		DataDir:     params.DataDir,
		LogLevel:    params.LogLevel,
		WithModules: true,
	})
	if err != nil {
		return nil, err
	}
	rt.WatchConfig(cfgPath, 0)
	rt.Logger.Info("starting toolgate", "version", params.Version, "commit", params.Commit, "config", cfgPath)
	if err := rt.App.Start(); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

// WatchConfig reloads the tool policy from cfgPath whenever the file
// content changes. It must be called before App.Start.
func (rt *Runtime) WatchConfig(cfgPath string, interval time.Duration) {
	rt.Reloader = reload.NewHandler(cfgPath, rt.Gate, rt.Logger)
	rt.App.AppendModule(reload.ModuleID, reload.NewModule(rt.Reloader, interval))
}

// ResolveConfigPath searches for a config file in standard locations.
func ResolveConfigPath() (string, error) {
	return config.ResolvePath()
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/toolgate if set, otherwise ~/.local/share/toolgate.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "toolgate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "toolgate")
}

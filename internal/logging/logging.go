// Package logging configures the daemon's structured JSON logger, rotated
// with lumberjack, in the teacher's slog-to-file style. It also opens the
// smaller per-bundle log files (container.log, bootlog) a running
// container's output is captured to.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the daemon logger.
type Options struct {
	Path       string // if empty, logs go to stderr unrotated
	Level      string // debug|info|warn|error
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init builds a JSON slog.Logger, installs it as the process default, and
// returns it. When opts.Path is set, output rotates via lumberjack;
// otherwise it goes to stderr.
func Init(opts Options) (*slog.Logger, error) {
	var writer = os.Stderr
	var handler slog.Handler

	if opts.Path == "" {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: parseLevel(opts.Level)})
	} else {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("logging: creating log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    defaultInt(opts.MaxSizeMB, 50),
			MaxBackups: defaultInt(opts.MaxBackups, 5),
			MaxAge:     defaultInt(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		handler = slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: parseLevel(opts.Level)})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

func defaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// ContainerLogPaths returns the pair of log file paths a bundle directory
// gets: the init process's stdio capture, and the boot/bootstrap log.
func ContainerLogPaths(bundleDir string) (containerLog, bootLog string) {
	return filepath.Join(bundleDir, "container.log"), filepath.Join(bundleDir, "bootlog")
}

// OpenContainerLog opens (creating if absent, appending otherwise) the
// given bundle's container.log for the sandbox helper to direct the init
// process's stdio capture to.
func OpenContainerLog(bundleDir string) (*os.File, error) {
	path, _ := ContainerLogPaths(bundleDir)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("logging: opening container log %q: %w", path, err)
	}
	return f, nil
}

// OpenBootLog opens the given bundle's bootlog, capturing the sandbox
// helper's own bootstrap-time diagnostics.
func OpenBootLog(bundleDir string) (*os.File, error) {
	_, path := ContainerLogPaths(bundleDir)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("logging: opening boot log %q: %w", path, err)
	}
	return f, nil
}

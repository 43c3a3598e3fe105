package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the log file. Empty disables file logging.
	FilePath string
	// Rotation bounds the log file; zero values take DefaultRotation.
	Rotation RotationPolicy
	// WriteToStderr also writes every record to stderr.
	WriteToStderr bool
}

// FileConfig logs at level to path only, DefaultLogPath when path is
// empty. Stdout is never used: under `kbindex serve` it carries JSON-RPC.
func FileConfig(level, path string, rotation RotationPolicy) Config {
	if path == "" {
		path = DefaultLogPath()
	}
	return Config{Level: level, FilePath: path, Rotation: rotation}
}

// Setup builds a JSON logger for cfg. The returned cleanup flushes and
// closes the log file and is safe to call when no file was opened.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var writers []io.Writer
	cleanup := func() {}

	if cfg.FilePath != "" {
		w, err := NewRotatingWriter(cfg.FilePath, cfg.Rotation)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, w)
		cleanup = func() { _ = w.Close() }
	}
	if cfg.WriteToStderr {
		writers = append(writers, os.Stderr)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: LevelFromString(cfg.Level),
	})
	return slog.New(handler), cleanup, nil
}

// LevelFromString parses a level name, defaulting to info.
func LevelFromString(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

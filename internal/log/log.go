// Package log provides the logging infrastructure shared by all ragcache
// components.
//
// Loggers are plain *slog.Logger values injected through constructors; no
// component reads a global logger. Components add their own context via
// logger.With("component", ...).
//
// Usage:
//
//	logger := log.New(log.Config{Level: slog.LevelDebug})
//	idx := index.NewMemory(cfg, logger.With("component", "index"))
//
//	// In tests:
//	logger := log.NewNop()
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger is a type alias for *slog.Logger so constructors can name their
// dependency without defining a custom interface.
type Logger = *slog.Logger

// Config defines logger configuration options.
type Config struct {
	// Level sets the minimum log level. Default: slog.LevelInfo
	Level slog.Level

	// JSON enables JSON format output. Default: false (text format)
	JSON bool

	// AddSource adds source file information to log entries.
	AddSource bool
}

// New creates a logger writing to os.Stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger that writes to w. Useful for capturing
// output in tests.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop creates a logger that discards all output. Test-only; production
// code always gets a real logger from New or NewWithWriter.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

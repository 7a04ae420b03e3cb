package slogutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ComponentKey is the attribute key rendered as the line prefix.
const ComponentKey = "component"

// LevelSilent is above every standard level.
const LevelSilent = slog.Level(100)

// NewLogger creates a new slog.Logger with the kernscope line format.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewLineHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewDiscardLogger creates a logger that discards all output.
func NewDiscardLogger() *slog.Logger {
	return slog.New(NewLineHandler(io.Discard, &slog.HandlerOptions{Level: LevelSilent}))
}

// Component returns a child logger tagged with a component name.
// A nil logger yields a discard logger so callers never need to check.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = NewDiscardLogger()
	}
	return logger.With(ComponentKey, name)
}

// LevelFromString converts a string to a slog.Level.
// Supports: debug, info, warn, error, silent (case-insensitive).
// Returns slog.LevelInfo for unrecognized strings.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "silent", "off":
		return LevelSilent
	default:
		return slog.LevelInfo
	}
}

// LevelFromVerbosity converts CLI verbosity flags to a slog.Level.
// - quiet=true: suppresses all logs
// - verbosity=0: warn
// - verbosity=1: info
// - verbosity>=2: debug
func LevelFromVerbosity(verbosity int, quiet bool) slog.Level {
	if quiet {
		return LevelSilent
	}
	switch verbosity {
	case 0:
		return slog.LevelWarn
	case 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// Options configures Setup.
type Options struct {
	// Level applies to the console writer.
	Level slog.Level
	// Console receives human-facing log lines, usually os.Stderr.
	Console io.Writer
	// FilePath optionally mirrors logs into a size-rotated file at debug level.
	FilePath string
	// MaxSize is the rotation threshold, e.g. "10MB". Empty disables rotation.
	MaxSize string
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
}

// Setup builds the process logger. The returned closer releases the log file
// and is never nil.
func Setup(opts Options) (*slog.Logger, io.Closer, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	consoleHandler := NewLineHandler(console, &slog.HandlerOptions{Level: opts.Level})
	if opts.FilePath == "" {
		return slog.New(consoleHandler), nopCloser{}, nil
	}

	w, err := OpenLogFile(opts.FilePath, ParseSize(opts.MaxSize), opts.MaxBackups)
	if err != nil {
		return nil, nil, err
	}
	fileHandler := NewLineHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewTeeHandler(consoleHandler, fileHandler)), w, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// TeeHandler writes logs to multiple handlers.
type TeeHandler struct {
	handlers []slog.Handler
}

// NewTeeHandler creates a handler that writes to all provided handlers.
func NewTeeHandler(handlers ...slog.Handler) *TeeHandler {
	return &TeeHandler{handlers: handlers}
}

// Enabled returns true if any handler is enabled for the level.
func (t *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes the record to every enabled handler and returns the first error.
func (t *TeeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WithAttrs returns a new TeeHandler with attributes added to all handlers.
func (t *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &TeeHandler{handlers: next}
}

// WithGroup returns a new TeeHandler with the group added to all handlers.
func (t *TeeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithGroup(name)
	}
	return &TeeHandler{handlers: next}
}

// Package logger provides process-wide logging for knowledgehub.
// Messages are printf-style and rendered through log/slog, as text or JSON.
// Debug messages are only emitted in verbose mode.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Format selects the slog handler.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

var (
	mu      sync.RWMutex
	verbose bool
	format            = FormatText
	output  io.Writer = os.Stderr
	level             = new(slog.LevelVar)
	log               = newLogger()
)

func newLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(output, opts))
	}
	return slog.New(slog.NewTextHandler(output, opts))
}

// SetVerbose enables or disables debug logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
	if v {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer. Defaults to os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	log = newLogger()
}

// SetFormat switches between text and JSON output.
func SetFormat(f Format) error {
	if f != FormatText && f != FormatJSON {
		return fmt.Errorf("unknown log format %q", f)
	}
	mu.Lock()
	defer mu.Unlock()
	format = f
	log = newLogger()
	return nil
}

// Slog returns the underlying structured logger.
func Slog() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func emit(lvl slog.Level, msg string, args ...any) {
	mu.RLock()
	l := log
	mu.RUnlock()
	if !l.Enabled(context.Background(), lvl) {
		return
	}
	l.Log(context.Background(), lvl, fmt.Sprintf(msg, args...))
}

// Debug logs a message if verbose mode is enabled.
func Debug(format string, args ...any) {
	emit(slog.LevelDebug, format, args...)
}

// Section logs a section header if verbose mode is enabled.
func Section(name string) {
	emit(slog.LevelDebug, "=== %s ===", name)
}

// Info logs an informational message.
func Info(format string, args ...any) {
	emit(slog.LevelInfo, format, args...)
}

// Warn logs a warning.
func Warn(format string, args ...any) {
	emit(slog.LevelWarn, format, args...)
}

// Error logs an error.
func Error(format string, args ...any) {
	emit(slog.LevelError, format, args...)
}

// Package log provides a leveled, structured logger built on top of
// log/slog, in the spirit of go-ethereum's own log package: call sites
// pass a message plus alternating key/value pairs, and every component
// is handed an explicit *Logger rather than reaching for a package-level
// global, so tests can inject a discard logger.
package log

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps an slog.Logger with the key/value calling convention used
// throughout this codebase.
type Logger struct {
	inner *slog.Logger
}

// New returns a Logger that writes human-readable text to os.Stderr at
// the given level.
func New(level slog.Level) *Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &Logger{inner: slog.New(h)}
}

// NewWithHandler wraps an arbitrary slog.Handler, letting callers redirect
// output (e.g. to a JSON sink, or to gopkg.in/natefinch/lumberjack for
// rotation) without touching call sites.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h)}
}

// Discard returns a Logger that drops everything; tests use it so
// assertions don't depend on stderr.
func Discard() *Logger {
	return NewWithHandler(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// With returns a new Logger whose every record carries the given
// key/value pairs in addition to its own.
func (l *Logger) With(ctx ...any) *Logger {
	return &Logger{inner: l.inner.With(ctx...)}
}

func (l *Logger) Trace(msg string, ctx ...any) { l.inner.Log(context.Background(), levelTrace, msg, ctx...) }
func (l *Logger) Debug(msg string, ctx ...any) { l.inner.Debug(msg, ctx...) }
func (l *Logger) Info(msg string, ctx ...any)  { l.inner.Info(msg, ctx...) }
func (l *Logger) Warn(msg string, ctx ...any)  { l.inner.Warn(msg, ctx...) }
func (l *Logger) Error(msg string, ctx ...any) { l.inner.Error(msg, ctx...) }

// levelTrace sits below slog.LevelDebug, matching geth's five-level scheme.
const levelTrace = slog.Level(-8)

// root is the default logger used by package-level convenience
// functions; every long-lived component in this repo takes its own
// *Logger via constructor injection instead.
var root = New(slog.LevelInfo)

func Trace(msg string, ctx ...any) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...any) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { root.Error(msg, ctx...) }

// SetDefault replaces the package-level root logger, e.g. so cmd/execcore
// can route default-logger writes to the configured sink at startup.
func SetDefault(l *Logger) { root = l }

// Package logger provides level-gated, fixed-column logging for the redactor.
//
// Each entry is written as a single line:
//
//	2006-01-02 15:04:05.000 | MODULE       | ACTION               | LEVEL | message
//
// Levels (lowest to highest): debug, info, warn, error.
// Entries below the configured minimum level are silently dropped.
//
// Usage:
//
//	log := logger.New("PIPELINE", cfg.LogLevel)
//	log.Infof("document_done", "%s: %d pages, %d regions", name, pages, regions)
//	rlog := log.With(requestID)
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Level represents a log severity.
type Level int32

// Log severity constants, ordered lowest to highest.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger writes log lines for a single module. A Logger is safe for
// concurrent use; page workers share the pipeline logger.
type Logger struct {
	module string
	prefix string
	level  *atomic.Int32
	out    *log.Logger
}

// New creates a Logger for the given module, gated at the given level string.
// Unrecognized level strings default to "info".
func New(module, levelStr string) *Logger {
	lv := new(atomic.Int32)
	lv.Store(int32(parseLevel(levelStr)))
	return &Logger{
		module: strings.ToUpper(module),
		level:  lv,
		out:    log.New(os.Stderr, "", 0),
	}
}

// Nop returns a Logger that discards everything. Handy in tests and for
// optional collaborators.
func Nop() *Logger {
	l := New("NOP", "error")
	l.out = log.New(io.Discard, "", 0)
	return l
}

// SetLevel changes the minimum log level at runtime. Children created with
// With share the level.
func (l *Logger) SetLevel(levelStr string) {
	l.level.Store(int32(parseLevel(levelStr)))
}

// SetOutput redirects the logger.
func (l *Logger) SetOutput(w io.Writer) {
	l.out = log.New(w, "", 0)
}

// With returns a child logger whose messages are prefixed with [id].
func (l *Logger) With(id string) *Logger {
	if id == "" {
		return l
	}
	return &Logger{
		module: l.module,
		prefix: l.prefix + "[" + id + "] ",
		level:  l.level,
		out:    l.out,
	}
}

// Module returns a logger for another module sharing output and level.
func (l *Logger) Module(module string) *Logger {
	return &Logger{
		module: strings.ToUpper(module),
		prefix: l.prefix,
		level:  l.level,
		out:    l.out,
	}
}

// Enabled reports whether messages at lv would be written.
func (l *Logger) Enabled(lv Level) bool {
	return lv >= Level(l.level.Load())
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(action, msg string) { l.write(LevelDebug, "DEBUG", action, msg) }

// Info logs at INFO level.
func (l *Logger) Info(action, msg string) { l.write(LevelInfo, "INFO ", action, msg) }

// Warn logs at WARN level.
func (l *Logger) Warn(action, msg string) { l.write(LevelWarn, "WARN ", action, msg) }

// Error logs at ERROR level.
func (l *Logger) Error(action, msg string) { l.write(LevelError, "ERROR", action, msg) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(action, format string, args ...any) {
	if !l.Enabled(LevelDebug) {
		return
	}
	l.Debug(action, fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(action, format string, args ...any) {
	l.Info(action, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(action, format string, args ...any) {
	l.Warn(action, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(action, format string, args ...any) {
	l.Error(action, fmt.Sprintf(format, args...))
}

// Fatal logs at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatal(action, msg string) {
	l.Error(action, msg)
	os.Exit(1)
}

// Fatalf logs a formatted message at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatalf(action, format string, args ...any) {
	l.Fatal(action, fmt.Sprintf(format, args...))
}

func (l *Logger) write(level Level, levelLabel, action, msg string) {
	if !l.Enabled(level) {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.out.Printf("%s | %-12s | %-22s | %s | %s%s", ts, l.module, action, levelLabel, l.prefix, msg)
}

// parseLevel converts a string to a Level, defaulting to LevelInfo.
func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	debugEnabled atomic.Bool

	mu     sync.RWMutex
	logger *zap.SugaredLogger
)

func init() {
	debugEnabled.Store(os.Getenv("DEBUG") == "true")
	logger = build(debugEnabled.Load())
}

func build(debug bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

// SetLogger replaces the process logger (tests use zap.NewNop or zaptest)
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l.Sugar()
}

// SetDebug toggles debug output at runtime
func SetDebug(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	debugEnabled.Store(enabled)
	logger = build(enabled)
}

// Sync flushes buffered entries
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = logger.Sync()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func line(subsystem, format string, args ...any) string {
	return fmt.Sprintf("[%s] "+format, append([]any{subsystem}, args...)...)
}

// Info logs an informational message (always shown)
func Info(subsystem, format string, args ...any) {
	current().Infow(line(subsystem, format, args...), "subsystem", subsystem)
}

// Debug logs a debug message (only shown if DEBUG=true)
func Debug(subsystem, format string, args ...any) {
	if debugEnabled.Load() {
		current().Debugw(line(subsystem, format, args...), "subsystem", subsystem)
	}
}

// Warn logs a recoverable problem
func Warn(subsystem, format string, args ...any) {
	current().Warnw(line(subsystem, format, args...), "subsystem", subsystem)
}

// Error logs a failure that was handled but should be looked at
func Error(subsystem, format string, args ...any) {
	current().Errorw(line(subsystem, format, args...), "subsystem", subsystem)
}

// Truncate truncates a string to maxLen and adds ellipsis
func Truncate(s string, maxLen int) string {
	// Replace newlines with spaces for one-line logs
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

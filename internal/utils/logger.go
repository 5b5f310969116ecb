// Package utils provides small ambient helpers shared across the dispatch engine.
package utils

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the log level
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelSuccess LogLevel = "SUCCESS"
	LogLevelWarn    LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelDebug   LogLevel = "DEBUG"
)

// LogEntry represents a structured log entry kept in the bounded in-memory
// history, for a future admin/status surface to page through.
type LogEntry struct {
	Timestamp string   `json:"timestamp"`
	Level     LogLevel `json:"level"`
	Message   string   `json:"message"`
}

// LogListener is a function that receives log entries
type LogListener func(entry LogEntry)

// Logger wraps a zerolog.Logger with the debug toggle, bounded history, and
// listener fan-out the rest of the codebase expects from a package logger.
type Logger struct {
	mu             sync.RWMutex
	zl             zerolog.Logger
	isDebugEnabled bool
	history        []LogEntry
	maxHistory     int
	listeners      []LogListener
}

// NewLogger creates a new Logger instance writing structured lines to stdout.
func NewLogger() *Logger {
	return &Logger{
		zl:         zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel),
		history:    make([]LogEntry, 0),
		maxHistory: 1000,
		listeners:  make([]LogListener, 0),
	}
}

// SetDebug enables or disables debug mode
func (l *Logger) SetDebug(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isDebugEnabled = enabled
	if enabled {
		l.zl = l.zl.Level(zerolog.DebugLevel)
	} else {
		l.zl = l.zl.Level(zerolog.InfoLevel)
	}
}

// IsDebugEnabled returns whether debug mode is enabled
func (l *Logger) IsDebugEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isDebugEnabled
}

// AddListener adds a log listener
func (l *Logger) AddListener(listener LogListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, listener)
}

// GetHistory returns the log history
func (l *Logger) GetHistory() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result := make([]LogEntry, len(l.history))
	copy(result, l.history)
	return result
}

// record stores a structured entry and fans it out to listeners.
func (l *Logger) record(level LogLevel, message string) {
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   message,
	}

	l.mu.Lock()
	l.history = append(l.history, entry)
	if len(l.history) > l.maxHistory {
		l.history = l.history[1:]
	}
	listeners := make([]LogListener, len(l.listeners))
	copy(listeners, l.listeners)
	l.mu.Unlock()

	for _, listener := range listeners {
		listener(entry)
	}
}

// Info logs a standard info message
func (l *Logger) Info(message string, args ...interface{}) {
	msg := fmt.Sprintf(message, args...)
	l.zl.Info().Msg(msg)
	l.record(LogLevelInfo, msg)
}

// Success logs a success message
func (l *Logger) Success(message string, args ...interface{}) {
	msg := fmt.Sprintf(message, args...)
	l.zl.Info().Str("outcome", "success").Msg(msg)
	l.record(LogLevelSuccess, msg)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, args ...interface{}) {
	msg := fmt.Sprintf(message, args...)
	l.zl.Warn().Msg(msg)
	l.record(LogLevelWarn, msg)
}

// Error logs an error message
func (l *Logger) Error(message string, args ...interface{}) {
	msg := fmt.Sprintf(message, args...)
	l.zl.Error().Msg(msg)
	l.record(LogLevelError, msg)
}

// Debug logs a debug message (only if debug mode is enabled)
func (l *Logger) Debug(message string, args ...interface{}) {
	if !l.IsDebugEnabled() {
		return
	}
	msg := fmt.Sprintf(message, args...)
	l.zl.Debug().Msg(msg)
	l.record(LogLevelDebug, msg)
}

// Log prints a raw message without structured fields, for banner-style output.
func (l *Logger) Log(message string, args ...interface{}) {
	fmt.Printf(message, args...)
	fmt.Println()
}

// Header prints a section header to stdout.
func (l *Logger) Header(title string) {
	fmt.Printf("\n=== %s ===\n\n", title)
}

// Global logger instance
var (
	globalLogger     *Logger
	globalLoggerOnce sync.Once
)

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	globalLoggerOnce.Do(func() {
		globalLogger = NewLogger()
	})
	return globalLogger
}

// Convenience functions using the global logger

func Info(message string, args ...interface{})    { GetLogger().Info(message, args...) }
func Success(message string, args ...interface{}) { GetLogger().Success(message, args...) }
func Warn(message string, args ...interface{})    { GetLogger().Warn(message, args...) }
func Error(message string, args ...interface{})   { GetLogger().Error(message, args...) }
func Debug(message string, args ...interface{})   { GetLogger().Debug(message, args...) }
func SetDebug(enabled bool)                       { GetLogger().SetDebug(enabled) }
func IsDebug() bool                               { return GetLogger().IsDebugEnabled() }

package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents log severity
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// F is a shorthand for creating a Field
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Config holds logger configuration
type Config struct {
	Level      Level     // Minimum log level
	FilePath   string    // Path to log file
	MaxSizeMB  int       // Max size in megabytes before rotation (default: 10)
	MaxAge     int       // Max age in days (default: 7)
	MaxBackups int       // Max number of backup files (default: 5)
	Console    bool      // Enable console logging
	Output     io.Writer // Extra writer, mostly for tests
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	logPath := filepath.Join(home, ".irondesk", "logs", "irondesk.log")

	return Config{
		Level:      INFO,
		FilePath:   logPath,
		MaxSizeMB:  10,
		MaxAge:     7,
		MaxBackups: 5,
		Console:    false,
	}
}

// sink is shared by a logger and every logger derived from it with WithFields.
type sink struct {
	mu      sync.Mutex
	file    io.WriteCloser
	writers []io.Writer
}

// Logger is the main logger instance
type Logger struct {
	config Config
	sink   *sink
	fields []Field
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// Init initializes the global logger. Calling it again replaces the
// previous global logger and closes its file.
func Init(config Config) error {
	l, err := New(config)
	if err != nil {
		return err
	}

	globalMu.Lock()
	prev := globalLogger
	globalLogger = l
	globalMu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// New creates a new logger instance
func New(config Config) (*Logger, error) {
	s := &sink{}

	if config.FilePath != "" {
		logDir := filepath.Dir(config.FilePath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		maxSize := config.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		rotator := &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    maxSize,
			MaxAge:     config.MaxAge,
			MaxBackups: config.MaxBackups,
		}
		s.file = rotator
		s.writers = append(s.writers, rotator)
	}

	if config.Console {
		s.writers = append(s.writers, os.Stderr)
	}
	if config.Output != nil {
		s.writers = append(s.writers, config.Output)
	}

	return &Logger{config: config, sink: s}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{config: Config{Level: ERROR + 1}, sink: &sink{}}
}

// log writes a log entry
func (l *Logger) log(level Level, msg string, fields []Field) {
	if l == nil || level < l.config.Level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	caller := "???"
	if ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	var b strings.Builder
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(&b, "[%s] %s %s: %s", timestamp, level.String(), caller, msg)

	if len(l.fields)+len(fields) > 0 {
		b.WriteString(" |")
		for _, f := range l.fields {
			fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
		}
		for _, f := range fields {
			fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
		}
	}
	b.WriteByte('\n')

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	for _, w := range l.sink.writers {
		_, _ = io.WriteString(w, b.String())
	}
}

// WithFields creates a new logger with preset fields
func (l *Logger) WithFields(fields ...Field) *Logger {
	if l == nil {
		return nil
	}
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &Logger{
		config: l.config,
		sink:   l.sink,
		fields: merged,
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...Field) {
	l.log(DEBUG, msg, fields)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...Field) {
	l.log(INFO, msg, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...Field) {
	l.log(WARN, msg, fields)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...Field) {
	l.log(ERROR, msg, fields)
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.file != nil {
		return l.sink.file.Close()
	}
	return nil
}

// Global logger functions

// Default returns the global logger, or a no-op logger before Init.
func Default() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return Nop()
	}
	return globalLogger
}

// Debug logs a debug message using the global logger
func Debug(msg string, fields ...Field) {
	Default().log(DEBUG, msg, fields)
}

// Info logs an info message using the global logger
func Info(msg string, fields ...Field) {
	Default().log(INFO, msg, fields)
}

// Warn logs a warning message using the global logger
func Warn(msg string, fields ...Field) {
	Default().log(WARN, msg, fields)
}

// Error logs an error message using the global logger
func Error(msg string, fields ...Field) {
	Default().log(ERROR, msg, fields)
}

// WithFields creates a new logger with preset fields using the global logger
func WithFields(fields ...Field) *Logger {
	return Default().WithFields(fields...)
}

// Close closes the global logger
func Close() error {
	globalMu.Lock()
	l := globalLogger
	globalLogger = nil
	globalMu.Unlock()
	return l.Close()
}

// GetConfig returns the current logger configuration
func GetConfig() Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger.config
	}
	return DefaultConfig()
}

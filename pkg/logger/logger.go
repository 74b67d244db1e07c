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

// Level represents log level
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelDebug Level = "DEBUG"
)

// Logger provides structured logging
type Logger struct {
	*log.Logger
	fields []Field
	debug  *atomic.Bool
	now    func() time.Time
}

// New creates a new logger writing to stdout
func New() *Logger {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter creates a logger that writes to w. Debug output is off until
// SetDebug(true) is called.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{
		Logger: log.New(w, "", 0),
		debug:  &atomic.Bool{},
		now:    time.Now,
	}
}

// Discard returns a logger that drops everything. Handy for tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard)
}

// SetDebug toggles debug lines for this logger and every child created with With.
func (l *Logger) SetDebug(enabled bool) {
	l.debug.Store(enabled)
}

// With returns a child logger that prefixes every entry with fields.
func (l *Logger) With(fields ...Field) *Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &Logger{
		Logger: l.Logger,
		fields: merged,
		debug:  l.debug,
		now:    l.now,
	}
}

// Log writes a structured log entry
func (l *Logger) Log(level Level, message string, fields ...Field) {
	if level == LevelDebug && !l.debug.Load() {
		return
	}
	timestamp := l.now().Format(time.RFC3339)
	all := fields
	if len(l.fields) > 0 {
		all = append(append([]Field{}, l.fields...), fields...)
	}
	l.Logger.Println(formatLogEntry(timestamp, string(level), message, all...))
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...Field) {
	l.Log(LevelInfo, message, fields...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...Field) {
	l.Log(LevelWarn, message, fields...)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...Field) {
	l.Log(LevelError, message, fields...)
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...Field) {
	l.Log(LevelDebug, message, fields...)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value string
}

// F creates a Field
func F(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates a Field from an integer value
func Int(key string, value int64) Field {
	return Field{Key: key, Value: fmt.Sprintf("%d", value)}
}

// Err creates an "error" Field. A nil error renders as an empty value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error"}
	}
	return Field{Key: "error", Value: err.Error()}
}

func formatLogEntry(timestamp, level, message string, fields ...Field) string {
	var b strings.Builder
	b.WriteString(timestamp)
	b.WriteString(" [")
	b.WriteString(level)
	b.WriteString("] ")
	b.WriteString(message)
	if len(fields) > 0 {
		b.WriteString(" |")
		for _, field := range fields {
			b.WriteString(" ")
			b.WriteString(field.Key)
			b.WriteString("=")
			b.WriteString(field.Value)
		}
	}
	return b.String()
}

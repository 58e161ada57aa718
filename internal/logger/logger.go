// Package logger provides a structured, module-aware logging system built on Go's standard log/slog.
//
// Each package obtains a module-scoped logger from the global CentralLogger:
//
//	func GetLogger() logger.Logger {
//	    return logger.Global().Module("demux")
//	}
//
// Console output is human-readable text without timestamps. File output is JSON and is
// rotated by lumberjack when file_output.max_size is set.
//
// Typed field constructors keep log lines machine-parseable:
//
//	log.Warn("frame CRC mismatch",
//	    logger.Uint64("frame", n),
//	    logger.Int64("offset", off))
package logger

import (
	"time"
	"unique"
)

// LogLevel represents log severity levels
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field represents a structured log field. Keys are interned with unique.Make.
type Field struct {
	Key   string
	Value any
}

func internKey(key string) string {
	return unique.Make(key).Value()
}

// Pre-interned common keys for zero-allocation access
var (
	errorKey = internKey("error")
)

// Logger is the centralized logging interface for dependency injection
type Logger interface {
	// Module returns a logger scoped to a specific module
	Module(name string) Logger

	// Leveled logging methods
	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that adds fields to every line
	With(fields ...Field) Logger

	// Enabled reports whether a message at level would be written
	Enabled(level LogLevel) bool
}

// String creates a string field. Keys are interned across calls.
func String(key, value string) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int creates an integer field.
func Int(key string, value int) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int64 creates a 64-bit integer field, used for byte offsets and sizes.
func Int64(key string, value int64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Uint64 creates an unsigned 64-bit integer field, used for sample positions and frame numbers.
func Uint64(key string, value uint64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Uint32 creates an unsigned 32-bit integer field.
func Uint32(key string, value uint32) Field {
	return Field{Key: internKey(key), Value: uint64(value)}
}

// Float64 creates a float field. Output is rounded to three decimals.
func Float64(key string, value float64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Bool creates a boolean field.
func Bool(key string, value bool) Field {
	return Field{Key: internKey(key), Value: value}
}

// Error creates an error field. The key is always "error".
func Error(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: nil}
	}
	return Field{Key: errorKey, Value: err.Error()}
}

// Duration creates a duration field rendered as a string such as "1.5s".
func Duration(key string, value time.Duration) Field {
	return Field{Key: internKey(key), Value: value}
}

// Time creates a time field.
func Time(key string, value time.Time) Field {
	return Field{Key: internKey(key), Value: value}
}

// Any creates a field with any JSON-serializable value.
func Any(key string, value any) Field {
	return Field{Key: internKey(key), Value: value}
}

package tiercache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
)

// LogLevel represents different logging levels
type LogLevel int

// Supported log levels.
const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// Operation names the cache operation a log line belongs to.
type Operation string

// Operation constants for cache operations
const (
	OpSet         Operation = "set"
	OpGet         Operation = "get"
	OpDelete      Operation = "delete"
	OpClear       Operation = "clear"
	OpEvict       Operation = "evict"
	OpMaintenance Operation = "maintenance"
	OpPreload     Operation = "preload"
	OpRecover     Operation = "recover"
)

// Logger provides structured logging for the cache.
// A nil *Logger discards everything.
type Logger struct {
	impl loggerImpl
}

type loggerImpl interface {
	log(ctx context.Context, level LogLevel, msg string, args ...any)
	with(args ...any) loggerImpl
}

// LogConfig holds configuration for the cache logger.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error)
	Level LogLevel
	// EnableCallerInfo includes file and line number in logs
	EnableCallerInfo bool
	// Output receives log lines. Defaults to os.Stderr.
	Output io.Writer
	// JSON switches from the text handler to the JSON handler.
	JSON bool
}

// DefaultLogConfig returns a default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  LogLevelInfo,
		Output: os.Stderr,
	}
}

// NewLogger creates a new structured logger with the given configuration.
func NewLogger(config LogConfig) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     config.Level.slogLevel(),
		AddSource: config.EnableCallerInfo,
	}

	var handler slog.Handler = slog.NewTextHandler(out, opts)
	if config.JSON {
		handler = slog.NewJSONHandler(out, opts)
	}

	return &Logger{impl: &slogLogger{logger: slog.New(handler)}}
}

// NewSlogLogger adapts an existing slog.Logger, typically the host
// application's, so the cache logs through the same sink.
func NewSlogLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		return NewNopLogger()
	}
	return &Logger{impl: &slogLogger{logger: logger}}
}

// NewNopLogger creates a no-op logger that discards all log messages.
func NewNopLogger() *Logger {
	return &Logger{impl: nopLogger{}}
}

// Debug logs debug-level messages
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LogLevelDebug, msg, args...)
}

// Info logs info-level messages
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LogLevelInfo, msg, args...)
}

// Warn logs warning-level messages
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LogLevelWarn, msg, args...)
}

// Error logs error-level messages
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LogLevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level LogLevel, msg string, args ...any) {
	if l == nil || l.impl == nil {
		return
	}
	l.impl.log(ctx, level, msg, args...)
}

// With returns a logger with additional context fields
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.impl == nil {
		return l
	}
	if _, ok := l.impl.(nopLogger); ok {
		return l
	}
	return &Logger{impl: l.impl.with(args...)}
}

// WithOperation returns a logger with operation context
func (l *Logger) WithOperation(op Operation) *Logger {
	return l.With("operation", string(op))
}

// WithKey returns a logger with cache key context
func (l *Logger) WithKey(key string) *Logger {
	return l.With("key", key)
}

type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) log(ctx context.Context, level LogLevel, msg string, args ...any) {
	l.logger.Log(ctx, level.slogLevel(), msg, args...)
}

func (l *slogLogger) with(args ...any) loggerImpl {
	return &slogLogger{logger: l.logger.With(args...)}
}

type nopLogger struct{}

func (nopLogger) log(context.Context, LogLevel, string, ...any) {}
func (n nopLogger) with(...any) loggerImpl                       { return n }

func (lv LogLevel) slogLevel() slog.Level {
	switch lv {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLogLevel parses a string log level into a LogLevel.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug, nil
	case "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, errors.Newf(errors.CodeInvalidInput, "invalid log level: %s", level)
	}
}

func logEviction(ctx context.Context, logger *Logger, key string, size int64, reason string) {
	logger.Info(ctx, "cache entry evicted",
		"operation", string(OpEvict),
		"key", key,
		"size", size,
		"reason", reason)
}

func logLoadFailure(ctx context.Context, logger *Logger, op Operation, key string, err error) {
	logger.Warn(ctx, "failed to load spilled value, evicting entry",
		"operation", string(op),
		"key", key,
		"error", err.Error())
}

func logMaintenance(ctx context.Context, logger *Logger, report MaintenanceReport, stats Stats) {
	logger.Info(ctx, "cache maintenance completed",
		"operation", string(OpMaintenance),
		"reaped", report.Reaped,
		"evicted", report.Evicted,
		"entries", stats.Entries,
		"total_size", stats.TotalSize,
		"memory_usage", stats.MemoryUsage,
		"hit_rate", stats.HitRate,
		"duration_ms", report.Duration.Milliseconds())
}

func logDuration(ctx context.Context, logger *Logger, op Operation, start time.Time, args ...any) {
	fields := append([]any{"operation", string(op), "duration_ms", time.Since(start).Milliseconds()}, args...)
	logger.Debug(ctx, "cache operation completed", fields...)
}

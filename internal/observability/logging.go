package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger provides structured logging with run correlation.
//
// The logging system is built on Go's slog package and provides:
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - JSON output format for batch environments
//   - Human-readable text format for interactive use
//   - Automatic run and sweep correlation from context
//
// Usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	logger.Info(ctx, "Run launched", "run_id", "staff-support_0")
type Logger struct {
	logger *slog.Logger
	config LogConfig
}

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format specifies output format: "json" or "text"
	// JSON format is recommended for unattended sweeps; text for development
	Format string

	// Output is the writer for log output (defaults to os.Stdout)
	Output io.Writer

	// AddSource includes file and line number in log records
	AddSource bool
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	// SweepIDKey is the context key for sweep identifiers.
	SweepIDKey ContextKey = "sweep_id"

	// RunIDKey is the context key for run identifiers.
	RunIDKey ContextKey = "run_id"

	// ScenarioKey is the context key for scenario variant names.
	ScenarioKey ContextKey = "scenario"
)

// NewLogger creates a new structured logger with the given configuration.
//
// If config.Output is nil, logs are written to os.Stdout.
// If config.Level is empty or invalid, defaults to "info".
// If config.Format is empty, defaults to "json".
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = "json"
	}

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &Logger{
		logger: slog.New(handler),
		config: config,
	}
}

// Slog exposes the underlying slog.Logger for components that take one
// directly.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

// Debug logs a debug-level message with optional key-value pairs.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs an info-level message with optional key-value pairs.
//
// Example:
//
//	logger.Info(ctx, "Run finished", "run_id", "staff-support_3", "status", "succeeded")
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs a warning-level message with optional key-value pairs.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs an error-level message with optional key-value pairs.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

// log extracts correlation fields from the context and emits the record.
func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	attrs := make([]any, 0, len(args)+6)

	if sweepID, ok := ctx.Value(SweepIDKey).(string); ok && sweepID != "" {
		attrs = append(attrs, "sweep_id", sweepID)
	}
	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		attrs = append(attrs, "run_id", runID)
	}
	if scenario, ok := ctx.Value(ScenarioKey).(string); ok && scenario != "" {
		attrs = append(attrs, "scenario", scenario)
	}

	attrs = append(attrs, args...)

	l.logger.Log(ctx, level, msg, attrs...)
}

// WithFields returns a new logger with the given fields added to all log
// records.
//
// Example:
//
//	schedLogger := logger.WithFields("component", "scheduler")
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{
		logger: l.logger.With(args...),
		config: l.config,
	}
}

// AddSweepID adds a sweep identifier to the context.
func AddSweepID(ctx context.Context, sweepID string) context.Context {
	return context.WithValue(ctx, SweepIDKey, sweepID)
}

// AddRunID adds a run identifier to the context.
//
// Example:
//
//	ctx := observability.AddRunID(ctx, "staff-support_0")
//	logger.Info(ctx, "Launching engine") // Will include run_id=staff-support_0
func AddRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// AddScenario adds a scenario variant name to the context.
func AddScenario(ctx context.Context, scenario string) context.Context {
	return context.WithValue(ctx, ScenarioKey, scenario)
}

// GetRunID retrieves the run identifier from the context.
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

// GetSweepID retrieves the sweep identifier from the context.
func GetSweepID(ctx context.Context) string {
	if id, ok := ctx.Value(SweepIDKey).(string); ok {
		return id
	}
	return ""
}

// LogLevelFromString converts a string to a slog.Level.
// Returns LevelInfo if the string is not recognized.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, and error handling shared across the workflow
// engine's core packages (SPEC_FULL §10.1/10.2).
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

const (
	// TraceIDKey is the context key for trace IDs.
	TraceIDKey ContextKey = "trace_id"
	// RequestIDKey is the context key for request IDs.
	RequestIDKey ContextKey = "request_id"
	// WorkflowIDKey is the context key for the active workflow instance ID.
	WorkflowIDKey ContextKey = "workflow_id"
	// StepIDKey is the context key for the step currently being processed.
	StepIDKey ContextKey = "step_id"
	// SubAgentTaskIDKey is the context key for a parallel_foreach task ID.
	SubAgentTaskIDKey ContextKey = "sub_agent_task_id"
)

// Logger wraps slog.Logger with additional context-aware methods.
type Logger struct {
	logger *slog.Logger
}

// LoggerConfig configures the structured logger.
type LoggerConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string
	// Format is the log format (json, text)
	Format string
	// Output is the output destination (defaults to os.Stdout)
	Output io.Writer
	// AddSource adds source file/line to log entries
	AddSource bool
	// SentryEnabled enables Sentry integration for logs
	SentryEnabled bool
}

// DefaultLoggerConfig returns a default logger configuration.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:         "info",
		Format:        "json",
		Output:        os.Stdout,
		AddSource:     true,
		SentryEnabled: false,
	}
}

// sentryHandler is a slog.Handler that sends logs to Sentry.
type sentryHandler struct {
	next slog.Handler
}

func (h *sentryHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *sentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		var attrs []slog.Attr
		r.Attrs(func(attr slog.Attr) bool {
			attrs = append(attrs, attr)
			return true
		})

		sentryCtx := make(map[string]interface{})
		for _, attr := range attrs {
			sentryCtx[attr.Key] = attr.Value.Any()
		}

		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetContext("log", sentryCtx)
			scope.SetTag("logger", "slog")
			scope.SetTag("level", r.Level.String())
			sentry.CaptureMessage(r.Message)
		})
	}

	return h.next.Handle(ctx, r)
}

func (h *sentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sentryHandler{next: h.next.WithAttrs(attrs)}
}

func (h *sentryHandler) WithGroup(name string) slog.Handler {
	return &sentryHandler{next: h.next.WithGroup(name)}
}

// NewLogger creates a new structured logger.
func NewLogger(cfg LoggerConfig) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, handlerOpts)
	}

	if cfg.SentryEnabled {
		handler = &sentryHandler{next: handler}
	}

	return &Logger{
		logger: slog.New(handler),
	}
}

// WithContext extracts context values and adds them to the logger.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	logger := l.logger

	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		logger = logger.With("trace_id", traceID)
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		logger = logger.With("request_id", requestID)
	}
	if workflowID, ok := ctx.Value(WorkflowIDKey).(string); ok && workflowID != "" {
		logger = logger.With("workflow_id", workflowID)
	}
	if stepID, ok := ctx.Value(StepIDKey).(string); ok && stepID != "" {
		logger = logger.With("step_id", stepID)
	}
	if taskID, ok := ctx.Value(SubAgentTaskIDKey).(string); ok && taskID != "" {
		logger = logger.With("sub_agent_task_id", taskID)
	}

	return logger
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// DebugContext logs a debug message with context.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Debug(msg, args...)
}

// InfoContext logs an info message with context.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Info(msg, args...)
}

// WarnContext logs a warning message with context.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Warn(msg, args...)
}

// ErrorContext logs an error message with context.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Error(msg, args...)
}

// With returns a logger with additional attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		logger: l.logger.With(args...),
	}
}

// WithGroup returns a logger with a named group.
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{
		logger: l.logger.WithGroup(name),
	}
}

// LogWorkflowStart logs the creation of a Workflow Instance.
func (l *Logger) LogWorkflowStart(ctx context.Context, workflowName string, totalSteps int) {
	l.WithContext(ctx).Info("workflow_start",
		"workflow_name", workflowName,
		"total_steps", totalSteps,
	)
}

// LogWorkflowComplete logs a Workflow Instance reaching a terminal status.
func (l *Logger) LogWorkflowComplete(ctx context.Context, status string, duration time.Duration) {
	l.WithContext(ctx).Info("workflow_complete",
		"status", status,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogStepExecution logs one step's dispatch outcome.
func (l *Logger) LogStepExecution(ctx context.Context, stepType string, location string, duration time.Duration) {
	l.WithContext(ctx).Info("step_execution",
		"step_type", stepType,
		"location", location,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogStateUpdate logs an applied state update batch.
func (l *Logger) LogStateUpdate(ctx context.Context, pathCount int, newVersion int) {
	l.WithContext(ctx).Info("state_update",
		"path_count", pathCount,
		"version", newVersion,
	)
}

// LogSubAgentTask logs a parallel_foreach task's terminal status.
func (l *Logger) LogSubAgentTask(ctx context.Context, status string, index, total int, duration time.Duration) {
	l.WithContext(ctx).Info("sub_agent_task",
		"status", status,
		"index", index,
		"total", total,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogCircuitBreakerTrip logs an admission-control breaker transition.
func (l *Logger) LogCircuitBreakerTrip(ctx context.Context, state string, consecutiveFailures int) {
	l.WithContext(ctx).Warn("circuit_breaker_trip",
		"state", state,
		"consecutive_failures", consecutiveFailures,
	)
}

// Underlying returns the underlying slog.Logger.
func (l *Logger) Underlying() *slog.Logger {
	return l.logger
}

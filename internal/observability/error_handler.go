// Package observability provides enhanced error handling and context propagation
// for the workflow engine.
package observability

import (
	"context"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowloom/workflowengine/pkg/workflow"
)

// ErrorContext represents the context for error handling and reporting
// (SPEC_FULL §10.2).
type ErrorContext struct {
	// Request context
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	SpanID    string `json:"span_id,omitempty"`

	// Workflow context
	WorkflowID string `json:"workflow_id,omitempty"`
	StepID     string `json:"step_id,omitempty"`
	StepType   string `json:"step_type,omitempty"`

	Duration  time.Duration      `json:"duration_ms,omitempty"`
	ErrorCode workflow.ErrorCode `json:"error_code,omitempty"`

	// Additional metadata
	Tags  map[string]string      `json:"tags,omitempty"`
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// ErrorHandler provides enhanced error handling with Sentry integration and context propagation.
type ErrorHandler struct {
	logger        *Logger
	metrics       *MetricsCollector
	sentryEnabled bool
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger *Logger, metrics *MetricsCollector, sentryEnabled bool) *ErrorHandler {
	return &ErrorHandler{
		logger:        logger,
		metrics:       metrics,
		sentryEnabled: sentryEnabled,
	}
}

// HandleError processes an error with full context and reporting.
func (eh *ErrorHandler) HandleError(ctx context.Context, err error, errorCtx ErrorContext) {
	if err == nil {
		eh.logger.InfoContext(ctx, "operation completed successfully",
			"workflow_id", errorCtx.WorkflowID,
			"step_id", errorCtx.StepID,
			"step_type", errorCtx.StepType,
			"duration_ms", errorCtx.Duration.Milliseconds(),
		)
		return
	}

	eh.logger.ErrorContext(ctx, "error occurred",
		"error", err.Error(),
		"error_code", errorCtx.ErrorCode,
		"workflow_id", errorCtx.WorkflowID,
		"step_id", errorCtx.StepID,
		"step_type", errorCtx.StepType,
		"duration_ms", errorCtx.Duration.Milliseconds(),
	)

	if eh.metrics != nil && errorCtx.ErrorCode == workflow.ErrExpressionError {
		eh.metrics.RecordExpressionEvalError(string(errorCtx.ErrorCode))
	}

	if eh.sentryEnabled {
		eh.reportToSentry(ctx, err, errorCtx)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(
			attribute.String("error.code", string(errorCtx.ErrorCode)),
			attribute.String("workflow.id", errorCtx.WorkflowID),
			attribute.String("step.id", errorCtx.StepID),
		)
	}
}

// reportToSentry reports the error to Sentry with full context.
func (eh *ErrorHandler) reportToSentry(ctx context.Context, err error, errorCtx ErrorContext) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("error_code", string(errorCtx.ErrorCode))
		scope.SetTag("service", "workflowengine")

		if errorCtx.WorkflowID != "" {
			scope.SetTag("workflow.id", errorCtx.WorkflowID)
		}
		if errorCtx.StepID != "" {
			scope.SetTag("step.id", errorCtx.StepID)
		}
		if errorCtx.StepType != "" {
			scope.SetTag("step.type", errorCtx.StepType)
		}
		if errorCtx.RequestID != "" {
			scope.SetTag("request_id", errorCtx.RequestID)
		}
		if errorCtx.TraceID != "" {
			scope.SetTag("trace_id", errorCtx.TraceID)
		}
		if errorCtx.SpanID != "" {
			scope.SetTag("span_id", errorCtx.SpanID)
		}

		for key, value := range errorCtx.Tags {
			scope.SetTag(key, value)
		}

		if errorCtx.Duration > 0 {
			scope.SetContext("performance", map[string]interface{}{
				"duration_ms": errorCtx.Duration.Milliseconds(),
			})
		}

		pc := make([]uintptr, 10)
		n := runtime.Callers(2, pc)
		if n > 0 {
			frames := runtime.CallersFrames(pc[:n])
			stackTrace := make([]map[string]interface{}, 0, n)
			for {
				frame, more := frames.Next()
				stackTrace = append(stackTrace, map[string]interface{}{
					"function": frame.Function,
					"file":     frame.File,
					"line":     frame.Line,
				})
				if !more {
					break
				}
			}
			scope.SetContext("stack_trace", map[string]interface{}{
				"frames": stackTrace,
			})
		}

		if len(errorCtx.Extra) > 0 {
			scope.SetContext("extra", errorCtx.Extra)
		}

		sentry.CaptureException(err)
	})
}

// CreateErrorResponse creates the `{code, message, step_id?, path?}` error
// shape the engine returns to API callers (spec §4.9).
func (eh *ErrorHandler) CreateErrorResponse(err error, errorCtx ErrorContext) map[string]interface{} {
	response := map[string]interface{}{
		"error": map[string]interface{}{
			"code":      errorCtx.ErrorCode,
			"message":   err.Error(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}

	errBody := response["error"].(map[string]interface{})
	if errorCtx.StepID != "" {
		errBody["step_id"] = errorCtx.StepID
	}

	response["context"] = map[string]interface{}{
		"workflow_id": errorCtx.WorkflowID,
		"request_id":  errorCtx.RequestID,
	}

	if errorCtx.ErrorCode != "" {
		response["suggestions"] = eh.getErrorSuggestions(errorCtx.ErrorCode)
	}

	return response
}

// getErrorSuggestions provides helpful suggestions for common engine error codes.
func (eh *ErrorHandler) getErrorSuggestions(code workflow.ErrorCode) []string {
	suggestions := map[workflow.ErrorCode][]string{
		workflow.ErrInvalidInput: {
			"Check that all required inputs are provided",
			"Verify input types match the workflow's input schema",
		},
		workflow.ErrInvalidPath: {
			"State update paths must begin with inputs. or state.",
			"Re-check the path against the instance's current state tree",
		},
		workflow.ErrVersionConflict: {
			"Re-read the current state and retry the update with the latest version",
		},
		workflow.ErrCircularDependency: {
			"Check computed field dependencies for a cycle",
		},
		workflow.ErrMaxIterationsExceed: {
			"Review the while_loop condition for a path that never becomes false",
			"Raise max_iterations if the extra passes are expected",
		},
		workflow.ErrTimeout: {
			"The step or workflow exceeded its configured timeout",
			"Consider raising the timeout or simplifying the step",
		},
		workflow.ErrExpressionError: {
			"Check the expression for forbidden constructs or a runtime type error",
		},
		workflow.ErrSubAgentFailed: {
			"Inspect the failed task's result for its underlying error",
		},
		workflow.ErrSubAgentTimeout: {
			"Raise the step's timeout_seconds or reduce the task's workload",
		},
		workflow.ErrCircuitBreakerOpen: {
			"The engine is not accepting new workflow instances right now",
			"Retry after the circuit breaker's cooldown window elapses",
		},
	}

	if s, ok := suggestions[code]; ok {
		return s
	}
	return []string{"Review the workflow definition and retry"}
}

// ExtractErrorContext extracts error context from the current context and span.
func ExtractErrorContext(ctx context.Context) ErrorContext {
	errorCtx := ErrorContext{
		Tags:  make(map[string]string),
		Extra: make(map[string]interface{}),
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		spanCtx := span.SpanContext()
		if spanCtx.HasTraceID() {
			errorCtx.TraceID = spanCtx.TraceID().String()
		}
		if spanCtx.HasSpanID() {
			errorCtx.SpanID = spanCtx.SpanID().String()
		}
	}

	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		errorCtx.TraceID = traceID
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		errorCtx.RequestID = requestID
	}
	if workflowID, ok := ctx.Value(WorkflowIDKey).(string); ok {
		errorCtx.WorkflowID = workflowID
	}
	if stepID, ok := ctx.Value(StepIDKey).(string); ok {
		errorCtx.StepID = stepID
	}

	return errorCtx
}

// WithWorkflowContext adds workflow instance context to the provided context.
func WithWorkflowContext(ctx context.Context, workflowID string) context.Context {
	ctx = context.WithValue(ctx, WorkflowIDKey, workflowID)

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("workflow.id", workflowID)
	})

	return ctx
}

// WithStepContext adds the currently-processing step's ID to the provided context.
func WithStepContext(ctx context.Context, stepID string) context.Context {
	ctx = context.WithValue(ctx, StepIDKey, stepID)

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("step.id", stepID)
	})

	return ctx
}

// WithRequestContext adds request context to the provided context.
func WithRequestContext(ctx context.Context, requestID string) context.Context {
	ctx = context.WithValue(ctx, RequestIDKey, requestID)

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("request_id", requestID)
	})

	return ctx
}

// WithTraceContext adds trace context to the provided context.
func WithTraceContext(ctx context.Context, traceID string) context.Context {
	ctx = context.WithValue(ctx, TraceIDKey, traceID)

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("trace_id", traceID)
	})

	return ctx
}

// GracefulDegradation handles monitoring failures gracefully.
func (eh *ErrorHandler) GracefulDegradation(ctx context.Context, operation string, err error) {
	eh.logger.WarnContext(ctx, "monitoring operation failed, continuing without monitoring",
		"operation", operation,
		"error", err.Error(),
	)
}

// HealthCheck represents the health status of various components.
type HealthCheck struct {
	Status     string                 `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Version    string                 `json:"version"`
	Components map[string]interface{} `json:"components"`
}

// CreateHealthCheck creates a comprehensive health check response.
func (eh *ErrorHandler) CreateHealthCheck(ctx context.Context, version string) HealthCheck {
	health := HealthCheck{
		Status:     "healthy",
		Timestamp:  time.Now().UTC(),
		Version:    version,
		Components: make(map[string]interface{}),
	}

	if eh.sentryEnabled {
		health.Components["sentry"] = map[string]interface{}{"status": "enabled", "configured": true}
	} else {
		health.Components["sentry"] = map[string]interface{}{"status": "disabled", "configured": false}
	}

	if eh.metrics != nil {
		health.Components["metrics"] = map[string]interface{}{"status": "enabled", "configured": true}
	} else {
		health.Components["metrics"] = map[string]interface{}{"status": "disabled", "configured": false}
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		health.Components["tracing"] = map[string]interface{}{"status": "enabled", "configured": true}
	} else {
		health.Components["tracing"] = map[string]interface{}{"status": "disabled", "configured": false}
	}

	allHealthy := true
	for _, component := range health.Components {
		if comp, ok := component.(map[string]interface{}); ok {
			if status, ok := comp["status"].(string); ok && status != "enabled" {
				allHealthy = false
				break
			}
		}
	}

	if !allHealthy {
		health.Status = "degraded"
	}

	return health
}

// Package api exposes the Public API Surface (spec §6): the thin,
// transport-agnostic facade a tool-invocation loop calls into — start,
// get_next_step, get_workflow_status, list_active_workflows, read_state,
// update_state. It owns no execution logic of its own; it wraps
// internal/engine with the ambient observability boundary (request
// logging, metrics, Sentry/OTel error reporting) the way the teacher's
// MCP handler wraps its tool dispatch.
package api

import (
	"context"
	"time"

	"github.com/flowloom/workflowengine/internal/engine"
	"github.com/flowloom/workflowengine/internal/observability"
	"github.com/flowloom/workflowengine/pkg/workflow"
)

// Facade is the process-wide entrypoint a caller (embedder, HTTP handler,
// CLI driver) talks to.
type Facade struct {
	engine       *engine.Engine
	errorHandler *observability.ErrorHandler
	logger       *observability.Logger
}

// New builds a Facade around an already-constructed Engine.
func New(eng *engine.Engine, errorHandler *observability.ErrorHandler, logger *observability.Logger) *Facade {
	return &Facade{engine: eng, errorHandler: errorHandler, logger: logger}
}

func (f *Facade) report(ctx context.Context, op string, start time.Time, workflowID string, engErr *workflow.EngineError) {
	if f.errorHandler == nil {
		return
	}
	errCtx := observability.ExtractErrorContext(ctx)
	errCtx.WorkflowID = workflowID
	errCtx.Duration = time.Since(start)
	if engErr != nil {
		errCtx.ErrorCode = engErr.Code
		f.errorHandler.HandleError(ctx, engErr, errCtx)
		return
	}
	f.errorHandler.HandleError(ctx, nil, errCtx)
}

// Start creates and runs a new workflow instance from a definition and its
// resolved inputs (spec §6: "start(definition, inputs?)").
func (f *Facade) Start(ctx context.Context, def *workflow.Definition, inputs map[string]any) (*workflow.StatusSummary, *workflow.EngineError) {
	begin := time.Now()
	summary, engErr := f.engine.Start(ctx, def, inputs)
	f.report(ctx, "start", begin, summaryWorkflowID(summary), engErr)
	return summary, engErr
}

// GetNextStep advances the instance and returns the next batch of
// client-located steps, or nil once the instance has reached a terminal
// status (spec §6: "get_next_step(workflow_id) → null | {steps: [...]}").
func (f *Facade) GetNextStep(ctx context.Context, workflowID string) (*workflow.StepBatch, *workflow.EngineError) {
	begin := time.Now()
	batch, engErr := f.engine.GetNextStep(ctx, workflowID)
	f.report(ctx, "get_next_step", begin, workflowID, engErr)
	return batch, engErr
}

// GetWorkflowStatus returns the instance's current lifecycle status and
// state snapshot.
func (f *Facade) GetWorkflowStatus(ctx context.Context, workflowID string) (*workflow.StatusSummary, *workflow.EngineError) {
	begin := time.Now()
	summary, engErr := f.engine.GetWorkflowStatus(workflowID)
	f.report(ctx, "get_workflow_status", begin, workflowID, engErr)
	return summary, engErr
}

// ListActiveWorkflows returns every instance the engine still tracks.
func (f *Facade) ListActiveWorkflows(ctx context.Context) []workflow.ActiveWorkflowSummary {
	return f.engine.ListActiveWorkflows()
}

// ReadState returns the `{inputs, state, computed, raw}` snapshot,
// optionally restricted to specific flattened-view paths.
func (f *Facade) ReadState(ctx context.Context, workflowID string, paths []string) (workflow.StateSnapshot, *workflow.EngineError) {
	begin := time.Now()
	snapshot, engErr := f.engine.ReadState(workflowID, paths)
	f.report(ctx, "read_state", begin, workflowID, engErr)
	return snapshot, engErr
}

// UpdateState applies an atomic batch of state mutations and returns the
// resulting snapshot.
func (f *Facade) UpdateState(ctx context.Context, workflowID string, updates []workflow.StateUpdate) (workflow.StateSnapshot, *workflow.EngineError) {
	begin := time.Now()
	snapshot, engErr := f.engine.UpdateState(workflowID, updates)
	f.report(ctx, "update_state", begin, workflowID, engErr)
	return snapshot, engErr
}

// Dispose releases a terminal instance's resources.
func (f *Facade) Dispose(ctx context.Context, workflowID string) {
	f.engine.Dispose(ctx, workflowID)
}

func summaryWorkflowID(s *workflow.StatusSummary) string {
	if s == nil {
		return ""
	}
	return s.WorkflowID
}

// Package engine implements the Step Execution Engine / Queue Executor
// (spec §4.7): the central driver that walks a workflow instance's frame
// stack, resolves control flow, runs server-located steps to completion,
// and materializes client-located steps into a batch for the caller.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/flowloom/workflowengine/internal/control"
	"github.com/flowloom/workflowengine/internal/observability"
	"github.com/flowloom/workflowengine/internal/replacer"
	"github.com/flowloom/workflowengine/internal/shell"
	"github.com/flowloom/workflowengine/internal/state"
	"github.com/flowloom/workflowengine/internal/timeout"
	"github.com/flowloom/workflowengine/pkg/workflow"
)

// Engine drives every active Workflow Instance. One Engine is shared by a
// process; each instance gets its own frame stack, state, and cleanup
// registry, guarded by the Engine's instance-map lock plus the State
// Manager's own per-workflow locking.
type Engine struct {
	mu        sync.RWMutex
	instances map[string]*instanceRecord

	state       *state.Manager
	replacer    *replacer.Replacer
	shell       *shell.Executor
	coordinator *timeout.Coordinator
	logger      *observability.Logger
	metrics     *observability.MetricsCollector
}

type instanceRecord struct {
	mu sync.Mutex

	id         string
	definition *workflow.Definition
	stack      *control.Stack
	status     workflow.InstanceStatus
	createdAt  time.Time
	completedAt *time.Time
	budget     timeout.Budget
	cleanup    *timeout.CleanupRegistry
	warnings   []*workflow.EngineError
	lastError  *workflow.EngineError
	retries    map[string]int

	activeSubAgents map[string]*instanceRecord
}

// New constructs an Engine. Any of the collaborators may be nil to use a
// sensible zero-configuration default (in-memory state, no persistence, a
// default shell timeout, an admission coordinator admitting at most 20
// active workflows with a disabled circuit breaker).
func New(
	stateManager *state.Manager,
	coordinator *timeout.Coordinator,
	logger *observability.Logger,
	metrics *observability.MetricsCollector,
) *Engine {
	if stateManager == nil {
		stateManager = state.NewManager(nil)
	}
	if coordinator == nil {
		coordinator = timeout.NewCoordinator(20, timeout.NewCircuitBreaker(timeout.BreakerConfig{}, nil),
			300*time.Second, 30*time.Second, 300*time.Second, 30*time.Second)
	}
	return &Engine{
		instances:   make(map[string]*instanceRecord),
		state:       stateManager,
		replacer:    replacer.New(),
		shell:       shell.NewExecutor(0),
		coordinator: coordinator,
		logger:      logger,
		metrics:     metrics,
	}
}

// generateID mints a `wf_` + 8 hex char workflow ID from a CSPRNG.
func generateID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "wf_" + hex.EncodeToString(buf), nil
}

// Start creates a new Workflow Instance: validates inputs, initializes its
// three-tier state, pushes the root frame, and returns it already running
// (spec §4.7 start(): "Return initial state and status = running.").
func (e *Engine) Start(ctx context.Context, def *workflow.Definition, inputs map[string]any) (*workflow.StatusSummary, *workflow.EngineError) {
	if engErr := e.coordinator.Breaker.Allow(def.Name); engErr != nil {
		return nil, engErr
	}
	if engErr := e.coordinator.Gate.TryAcquire(); engErr != nil {
		return nil, engErr
	}

	resolvedInputs, engErr := validateAndMergeInputs(def.Inputs, inputs)
	if engErr != nil {
		e.coordinator.Gate.Release()
		return nil, engErr
	}

	id, err := generateID()
	if err != nil {
		e.coordinator.Gate.Release()
		return nil, &workflow.EngineError{Code: workflow.ErrInvalidInput, Message: "failed to generate workflow id: " + err.Error()}
	}

	snapshot, engErr := e.state.Initialize(id, resolvedInputs, def.DefaultState, def.StateSchema)
	if engErr != nil {
		e.coordinator.Gate.Release()
		return nil, engErr
	}

	rec := &instanceRecord{
		id:              id,
		definition:      def,
		stack:           control.NewStack(def.Steps),
		status:          workflow.StatusRunning,
		createdAt:       time.Now(),
		budget:          e.coordinator.WorkflowBudget(0),
		cleanup:         timeout.NewCleanupRegistry(e.coordinator.RecoveryTimeout),
		retries:         make(map[string]int),
		activeSubAgents: make(map[string]*instanceRecord),
	}

	e.mu.Lock()
	e.instances[id] = rec
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.LogWorkflowStart(ctx, def.Name, countSteps(def.Steps))
	}
	if e.metrics != nil {
		e.metrics.RecordWorkflowStart()
	}

	return &workflow.StatusSummary{
		WorkflowID:   id,
		WorkflowName: def.Name,
		Status:       workflow.StatusRunning,
		CreatedAt:    rec.createdAt,
		TotalSteps:   countSteps(def.Steps),
		State:        snapshot,
	}, nil
}

func countSteps(steps []workflow.Step) int {
	n := 0
	for _, s := range steps {
		n++
		n += countSteps(s.ThenSteps) + countSteps(s.ElseSteps) + countSteps(s.Body)
	}
	return n
}

// validateAndMergeInputs type-checks provided inputs against the declared
// schema and merges in declared defaults for anything omitted.
func validateAndMergeInputs(schema map[string]workflow.InputSchema, provided map[string]any) (map[string]any, *workflow.EngineError) {
	out := make(map[string]any, len(schema))
	for k, v := range provided {
		out[k] = v
	}
	for name, s := range schema {
		if _, ok := out[name]; !ok {
			if s.Required {
				return nil, &workflow.EngineError{Code: workflow.ErrInvalidInput, Message: "missing required input: " + name}
			}
			if s.Default != nil {
				out[name] = s.Default
			}
			continue
		}
		if s.Type != "" && !matchesType(out[name], s.Type) {
			return nil, &workflow.EngineError{Code: workflow.ErrInvalidInput, Message: fmt.Sprintf("input %q must be of type %s", name, s.Type)}
		}
	}
	return out, nil
}

func matchesType(v any, declared string) bool {
	switch declared {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

// GetWorkflowStatus returns the current status summary for an instance.
func (e *Engine) GetWorkflowStatus(workflowID string) (*workflow.StatusSummary, *workflow.EngineError) {
	rec, engErr := e.lookup(workflowID)
	if engErr != nil {
		return nil, engErr
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	snapshot, engErr := e.state.Read(workflowID, nil)
	if engErr != nil {
		return nil, engErr
	}
	return &workflow.StatusSummary{
		WorkflowID:   workflowID,
		WorkflowName: rec.definition.Name,
		Status:       rec.status,
		CreatedAt:    rec.createdAt,
		CompletedAt:  rec.completedAt,
		TotalSteps:   countSteps(rec.definition.Steps),
		State:        snapshot,
		Warnings:     rec.warnings,
	}, nil
}

// ListActiveWorkflows returns a summary of every instance still tracked by
// the engine (spec §6's list_active_workflows).
func (e *Engine) ListActiveWorkflows() []workflow.ActiveWorkflowSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]workflow.ActiveWorkflowSummary, 0, len(e.instances))
	for id, rec := range e.instances {
		rec.mu.Lock()
		out = append(out, workflow.ActiveWorkflowSummary{
			WorkflowID:   id,
			WorkflowName: rec.definition.Name,
			Status:       rec.status,
			CreatedAt:    rec.createdAt,
		})
		rec.mu.Unlock()
	}
	return out
}

// ReadState and UpdateState delegate directly to the State Manager; they
// exist on Engine so the API facade has one collaborator instead of two.
func (e *Engine) ReadState(workflowID string, paths []string) (workflow.StateSnapshot, *workflow.EngineError) {
	return e.state.Read(workflowID, paths)
}

func (e *Engine) UpdateState(workflowID string, updates []workflow.StateUpdate) (workflow.StateSnapshot, *workflow.EngineError) {
	return e.state.Update(workflowID, normalizeRawAlias(updates), nil)
}

// normalizeRawAlias rewrites writes to the legacy `raw.*` alias onto
// `state.*` at the API boundary (spec §9: "Writes to raw.* should be
// normalized to state.* ... but are not otherwise privileged.").
func normalizeRawAlias(updates []workflow.StateUpdate) []workflow.StateUpdate {
	out := make([]workflow.StateUpdate, len(updates))
	for i, u := range updates {
		if len(u.Path) > 4 && u.Path[:4] == "raw." {
			u.Path = "state." + u.Path[4:]
		}
		out[i] = u
	}
	return out
}

func (e *Engine) lookup(workflowID string) (*instanceRecord, *workflow.EngineError) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.instances[workflowID]
	if !ok {
		return nil, &workflow.EngineError{Code: workflow.ErrNotFound, Message: "unknown workflow_id: " + workflowID}
	}
	return rec, nil
}

// Dispose releases an instance's resources: its cleanup handlers and its
// admission-gate slot (both already released if the instance reached a
// terminal status), and its state (spec §5: "Disposing a workflow
// releases locks and cleanup handlers before the instance record is removed
// from the active map.").
func (e *Engine) Dispose(ctx context.Context, workflowID string) {
	e.mu.Lock()
	rec, ok := e.instances[workflowID]
	if ok {
		delete(e.instances, workflowID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	rec.mu.Lock()
	terminal := rec.status == workflow.StatusCompleted || rec.status == workflow.StatusFailed
	rec.mu.Unlock()
	if !terminal {
		rec.cleanup.Run(ctx)
		e.coordinator.Gate.Release()
	}
	e.state.Delete(workflowID)
}

// Package state implements the per-workflow three-tier state store (spec
// §4.3): the inputs/state/computed tiers, atomic update batches, topological
// computed-field recomputation, a flattened read view for the expression
// evaluator and variable replacer, and versioned optimistic concurrency.
package state

import (
	"strings"
	"sync"

	"github.com/flowloom/workflowengine/internal/exprlang"
	"github.com/flowloom/workflowengine/pkg/workflow"
)

// Manager owns every live workflow instance's state. A single RWMutex guards
// the whole instance map and every tier within it; instances are cheap
// enough, and updates rare enough relative to reads, that per-instance
// locking isn't worth the complexity.
type Manager struct {
	mu          sync.RWMutex
	instances   map[string]*instanceState
	persistence PersistenceStore
}

type instanceState struct {
	inputs   map[string]any
	state    map[string]any
	computed map[string]any
	version  int
	graph    *computedGraph
	schema   workflow.StateSchema
}

// NewManager constructs a Manager. persistence may be nil, in which case
// Checkpoint only returns the captured Checkpoint to its caller and nothing
// is stored; Restore works from whatever Checkpoint it is handed.
func NewManager(persistence PersistenceStore) *Manager {
	return &Manager{
		instances:   make(map[string]*instanceState),
		persistence: persistence,
	}
}

// Initialize creates a new instance's state tiers: inputs from the provided
// values, state from default_state (deep-copied so instances never alias a
// shared definition's defaults), and computed fields evaluated for the first
// time in dependency order. A cyclic state_schema.computed is a load-time
// CIRCULAR_DEPENDENCY error, never a runtime surprise.
func (m *Manager) Initialize(
	workflowID string,
	inputs map[string]any,
	defaultState workflow.DefaultState,
	schema workflow.StateSchema,
) (workflow.StateSnapshot, *workflow.EngineError) {
	graph, engErr := buildComputedGraph(schema)
	if engErr != nil {
		return workflow.StateSnapshot{}, engErr
	}

	inst := &instanceState{
		inputs:   deepCopyMap(inputs),
		state:    deepCopyMap(defaultState.State),
		computed: make(map[string]any),
		version:  1,
		graph:    graph,
		schema:   schema,
	}

	if engErr := m.recompute(inst, graph.order); engErr != nil {
		return workflow.StateSnapshot{}, engErr
	}

	m.mu.Lock()
	m.instances[workflowID] = inst
	m.mu.Unlock()

	return m.Read(workflowID, nil)
}

// Read returns a defensive-copy snapshot of the instance's tiers, optionally
// narrowed to the given dot-paths (each prefixed with inputs./state./
// computed.). A nil or empty paths filter returns everything.
func (m *Manager) Read(workflowID string, paths []string) (workflow.StateSnapshot, *workflow.EngineError) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[workflowID]
	if !ok {
		return workflow.StateSnapshot{}, &workflow.EngineError{
			Code: workflow.ErrNotFound, Message: "unknown workflow_id: " + workflowID,
		}
	}

	full := workflow.StateSnapshot{
		Inputs:   deepCopyMap(inst.inputs),
		State:    deepCopyMap(inst.state),
		Computed: deepCopyMap(inst.computed),
	}
	full.Raw = full.State

	if len(paths) == 0 {
		return full, nil
	}
	return filterSnapshot(full, paths), nil
}

// GetFlattenedView returns the merged inputs/state/computed scope used by
// the expression evaluator and variable replacer: tier-prefixed access
// (state.x, computed.y, inputs.z) plus unprefixed top-level keys at
// computed > state > inputs precedence. The returned maps alias this
// instance's live tiers and must not be mutated by callers.
func (m *Manager) GetFlattenedView(workflowID string) (map[string]any, *workflow.EngineError) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[workflowID]
	if !ok {
		return nil, &workflow.EngineError{
			Code: workflow.ErrNotFound, Message: "unknown workflow_id: " + workflowID,
		}
	}
	return flattenedView(inst), nil
}

// Update applies an atomic batch: every path is validated before anything is
// written, so a single INVALID_PATH or VERSION_CONFLICT leaves the instance
// untouched. On success, primary-tier changes land first, then computed
// fields whose transitive dependency set intersects the changed paths
// recompute in topological order; version increments by 1.
func (m *Manager) Update(
	workflowID string,
	updates []workflow.StateUpdate,
	expectedVersion *int,
) (workflow.StateSnapshot, *workflow.EngineError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[workflowID]
	if !ok {
		return workflow.StateSnapshot{}, &workflow.EngineError{
			Code: workflow.ErrNotFound, Message: "unknown workflow_id: " + workflowID,
		}
	}

	if expectedVersion != nil && *expectedVersion != inst.version {
		return workflow.StateSnapshot{}, &workflow.EngineError{
			Code:    workflow.ErrVersionConflict,
			Message: "expected_version does not match current version",
		}
	}

	for _, u := range updates {
		if !strings.HasPrefix(u.Path, "inputs.") && !strings.HasPrefix(u.Path, "state.") {
			return workflow.StateSnapshot{}, &workflow.EngineError{
				Code:    workflow.ErrInvalidPath,
				Message: "update path must begin with inputs. or state.",
				Path:    u.Path,
			}
		}
	}

	changed := make([]string, 0, len(updates))
	for _, u := range updates {
		tier, rest, _ := strings.Cut(u.Path, ".")
		var target map[string]any
		switch tier {
		case "inputs":
			target = inst.inputs
		case "state":
			target = inst.state
		}
		if engErr := applyOperation(target, splitPath(rest), u.Operation, u.Value); engErr != nil {
			engErr.Path = u.Path
			return workflow.StateSnapshot{}, engErr
		}
		changed = append(changed, u.Path)
	}

	affected := inst.graph.affected(changed)
	if engErr := m.recompute(inst, affected); engErr != nil {
		return workflow.StateSnapshot{}, engErr
	}

	inst.version++
	return m.readLocked(inst), nil
}

// Delete removes an instance's state. It is not an error to delete an
// unknown workflow_id.
func (m *Manager) Delete(workflowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, workflowID)
}

// Version returns the instance's current optimistic-concurrency version.
func (m *Manager) Version(workflowID string) (int, *workflow.EngineError) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[workflowID]
	if !ok {
		return 0, &workflow.EngineError{Code: workflow.ErrNotFound, Message: "unknown workflow_id: " + workflowID}
	}
	return inst.version, nil
}

func (m *Manager) readLocked(inst *instanceState) workflow.StateSnapshot {
	snap := workflow.StateSnapshot{
		Inputs:   deepCopyMap(inst.inputs),
		State:    deepCopyMap(inst.state),
		Computed: deepCopyMap(inst.computed),
	}
	snap.Raw = snap.State
	return snap
}

// recompute evaluates the named computed fields in the order given (which
// must already be dependency-first) and writes results into inst.computed.
func (m *Manager) recompute(inst *instanceState, names []string) *workflow.EngineError {
	view := flattenedView(inst)
	for _, name := range names {
		desc := inst.schema.Computed[name]
		value, skip, engErr := evalComputedField(view, desc)
		if engErr != nil {
			engErr.Path = "computed." + name
			return engErr
		}
		if !skip {
			inst.computed[name] = value
		}
	}
	return nil
}

// evalComputedField evaluates one descriptor's transform against view,
// applying its on_error policy on failure. skip reports that the field's
// prior value (if any) should be left untouched — the "ignore" policy.
func evalComputedField(view map[string]any, desc workflow.ComputedFieldDescriptor) (value any, skip bool, engErr *workflow.EngineError) {
	var inputVal any
	if len(desc.From) == 1 {
		inputVal, _ = getAtPath(view, splitPath(desc.From[0]))
	} else {
		arr := make([]any, len(desc.From))
		for i, from := range desc.From {
			arr[i], _ = getAtPath(view, splitPath(from))
		}
		inputVal = arr
	}

	scope := make(map[string]any, len(view)+1)
	for k, v := range view {
		scope[k] = v
	}
	scope["input"] = inputVal

	result, evalErr := exprlang.Evaluate(desc.Transform, scope)
	if evalErr == nil {
		return result, false, nil
	}

	switch desc.OnError {
	case workflow.OnErrorUseFallback:
		return desc.Fallback, false, nil
	case workflow.OnErrorIgnore:
		return nil, true, nil
	default: // OnErrorPropagate, or unset
		return nil, false, &workflow.EngineError{
			Code:    workflow.ErrExpressionError,
			Message: evalErr.Error(),
		}
	}
}

// flattenedView builds the merged scope described on Manager.GetFlattenedView.
func flattenedView(inst *instanceState) map[string]any {
	view := make(map[string]any, len(inst.inputs)+len(inst.state)+len(inst.computed)+4)
	for k, v := range inst.inputs {
		view[k] = v
	}
	for k, v := range inst.state {
		view[k] = v
	}
	for k, v := range inst.computed {
		view[k] = v
	}
	view["inputs"] = inst.inputs
	view["state"] = inst.state
	view["computed"] = inst.computed
	view["raw"] = inst.state
	return view
}

// applyOperation mutates target at segments per operation.
func applyOperation(target map[string]any, segments []string, op workflow.StateOperation, value any) *workflow.EngineError {
	switch op {
	case workflow.OpIncrement:
		existing, _ := getAtPath(target, segments)
		sum, ok := addNumeric(existing, value)
		if !ok {
			return &workflow.EngineError{Code: workflow.ErrInvalidInput, Message: "increment requires numeric operands"}
		}
		setAtPath(target, segments, sum)
	case workflow.OpAppend:
		existing, found := getAtPath(target, segments)
		var arr []any
		if found {
			existingArr, ok := existing.([]any)
			if !ok {
				return &workflow.EngineError{Code: workflow.ErrInvalidInput, Message: "append requires an array at the target path"}
			}
			arr = append(append([]any{}, existingArr...), value)
		} else {
			arr = []any{value}
		}
		setAtPath(target, segments, arr)
	case workflow.OpMerge:
		existing, found := getAtPath(target, segments)
		incoming, ok := value.(map[string]any)
		if !ok {
			return &workflow.EngineError{Code: workflow.ErrInvalidInput, Message: "merge requires an object value"}
		}
		merged := map[string]any{}
		if found {
			existingMap, ok := existing.(map[string]any)
			if !ok {
				return &workflow.EngineError{Code: workflow.ErrInvalidInput, Message: "merge requires an object at the target path"}
			}
			for k, v := range existingMap {
				merged[k] = v
			}
		}
		for k, v := range incoming {
			merged[k] = v
		}
		setAtPath(target, segments, merged)
	default: // OpSet, or unset defaults to set
		setAtPath(target, segments, value)
	}
	return nil
}

func addNumeric(existing, delta any) (float64, bool) {
	base := 0.0
	if existing != nil {
		v, ok := toFloat(existing)
		if !ok {
			return 0, false
		}
		base = v
	}
	d, ok := toFloat(delta)
	if !ok {
		return 0, false
	}
	return base + d, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// filterSnapshot narrows full to only the given dot-paths, each resolved
// relative to its leading tier (inputs./state./computed.).
func filterSnapshot(full workflow.StateSnapshot, paths []string) workflow.StateSnapshot {
	out := workflow.StateSnapshot{
		Inputs:   map[string]any{},
		State:    map[string]any{},
		Computed: map[string]any{},
	}
	for _, p := range paths {
		tier, rest, hasRest := strings.Cut(p, ".")
		var src, dst map[string]any
		switch tier {
		case "inputs":
			src, dst = full.Inputs, out.Inputs
		case "state":
			src, dst = full.State, out.State
		case "computed":
			src, dst = full.Computed, out.Computed
		default:
			continue
		}
		if !hasRest {
			continue
		}
		if v, ok := getAtPath(src, splitPath(rest)); ok {
			setAtPath(dst, splitPath(rest), v)
		}
	}
	out.Raw = out.State
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = deepCopyValue(elem)
		}
		return out
	default:
		return v
	}
}

package workflow

import "fmt"

// Builder provides a fluent API for constructing a Definition, modeled on
// the same assemble-then-validate shape used throughout this codebase's
// orchestration layer.
type Builder struct {
	def *Definition
	err error
}

// NewBuilder starts a Definition builder for the given workflow name.
func NewBuilder(name string) *Builder {
	return &Builder{
		def: &Definition{
			Name:          name,
			Inputs:        make(map[string]InputSchema),
			DefaultState:  DefaultState{State: make(map[string]any)},
			StateSchema:   StateSchema{Computed: make(map[string]ComputedFieldDescriptor)},
			SubAgentTasks: make(map[string]*SubAgentTaskDefinition),
		},
	}
}

func (b *Builder) WithDescription(description string) *Builder {
	b.def.Description = description
	return b
}

func (b *Builder) WithVersion(version string) *Builder {
	b.def.Version = version
	return b
}

func (b *Builder) WithInput(name string, schema InputSchema) *Builder {
	b.def.Inputs[name] = schema
	return b
}

func (b *Builder) WithDefaultStateValue(path string, value any) *Builder {
	b.def.DefaultState.State[path] = value
	return b
}

func (b *Builder) WithComputedField(name string, descriptor ComputedFieldDescriptor) *Builder {
	b.def.StateSchema.Computed[name] = descriptor
	return b
}

func (b *Builder) AddStep(step Step) *Builder {
	if step.ID == "" {
		b.err = fmt.Errorf("step at index %d has empty ID", len(b.def.Steps))
		return b
	}
	b.def.Steps = append(b.def.Steps, step)
	return b
}

func (b *Builder) AddSubAgentTask(name string, task *SubAgentTaskDefinition) *Builder {
	b.def.SubAgentTasks[name] = task
	return b
}

// Build validates and returns the assembled Definition.
func (b *Builder) Build() (*Definition, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.def.Name == "" {
		return nil, fmt.Errorf("workflow definition must have a name")
	}
	if len(b.def.Steps) == 0 {
		return nil, fmt.Errorf("workflow definition %q must have at least one step", b.def.Name)
	}
	seen := make(map[string]bool, len(b.def.Steps))
	for _, s := range b.def.Steps {
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate step ID %q in workflow %q", s.ID, b.def.Name)
		}
		seen[s.ID] = true
	}
	return b.def, nil
}

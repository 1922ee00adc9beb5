package state

import (
	"gopkg.in/yaml.v3"
)

// DumpYAML renders a Checkpoint as human-readable YAML, used by debug
// tooling that wants to inspect a workflow's state without a sqlite client.
func (c Checkpoint) DumpYAML() (string, error) {
	out, err := yaml.Marshal(struct {
		WorkflowID string      `yaml:"workflow_id"`
		Version    int         `yaml:"version"`
		Inputs     interface{} `yaml:"inputs"`
		State      interface{} `yaml:"state"`
		Computed   interface{} `yaml:"computed"`
	}{
		WorkflowID: c.WorkflowID,
		Version:    c.Version,
		Inputs:     c.Snapshot.Inputs,
		State:      c.Snapshot.State,
		Computed:   c.Snapshot.Computed,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

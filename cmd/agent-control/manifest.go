package main

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// manifestEntry is one sub-agent this process supervises: which agent-type
// document governs it and which capabilities it declares (fed to
// LoadRemote's capability filter, per spec.md §4.7). Signature verification
// is gated by the agent type's own custom_capabilities, not by this list.
type manifestEntry struct {
	ID            string   `json:"id"`
	AgentTypeFile string   `json:"agent_type_file"`
	Capabilities  []string `json:"capabilities"`
}

type agentsManifest struct {
	Agents []manifestEntry `json:"agents"`
}

func loadManifest(path string) (*agentsManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agents manifest %q: %w", path, err)
	}
	var m agentsManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing agents manifest %q: %w", path, err)
	}
	for i, e := range m.Agents {
		if e.ID == "" {
			return nil, fmt.Errorf("agents manifest %q: entry %d has no id", path, i)
		}
		if e.AgentTypeFile == "" {
			return nil, fmt.Errorf("agents manifest %q: entry %q has no agent_type_file", path, e.ID)
		}
	}
	return &m, nil
}

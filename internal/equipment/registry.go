// Package equipment loads the equipment roster: which machines produce run
// time logs and where their log roots live.
package equipment

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Equipment describes one machine whose log root is scanned for run-time
// files.
type Equipment struct {
	ID      string `yaml:"id" json:"id"`
	Label   string `yaml:"label" json:"label"`
	LogRoot string `yaml:"logRoot" json:"logRoot"`
}

// Registry is the full roster loaded from the YAML roster file.
type Registry struct {
	Equipment []Equipment `yaml:"equipment"`
}

// Load reads the roster from a YAML file. A missing file is an error: the
// server cannot ingest anything without a roster.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read equipment roster: %w", err)
	}
	return Parse(data)
}

// Parse decodes a roster document and validates it.
func Parse(data []byte) (*Registry, error) {
	reg := &Registry{}
	if err := yaml.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("failed to parse equipment roster: %w", err)
	}
	if len(reg.Equipment) == 0 {
		return nil, fmt.Errorf("equipment roster is empty")
	}
	seen := make(map[string]struct{}, len(reg.Equipment))
	for i, eq := range reg.Equipment {
		if eq.ID == "" {
			return nil, fmt.Errorf("equipment entry %d has no id", i)
		}
		if eq.LogRoot == "" {
			return nil, fmt.Errorf("equipment %q has no logRoot", eq.ID)
		}
		if _, dup := seen[eq.ID]; dup {
			return nil, fmt.Errorf("duplicate equipment id %q", eq.ID)
		}
		seen[eq.ID] = struct{}{}
	}
	return reg, nil
}

// Get returns the equipment with the given id.
func (r *Registry) Get(id string) (Equipment, bool) {
	for _, eq := range r.Equipment {
		if eq.ID == id {
			return eq, true
		}
	}
	return Equipment{}, false
}

// IDs returns all equipment ids in roster order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.Equipment))
	for _, eq := range r.Equipment {
		ids = append(ids, eq.ID)
	}
	return ids
}

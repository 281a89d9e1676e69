package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineStep is one stage of a pipeline: a named persona and the prompt
// template it receives. Templates may reference {{task}} (the task text given
// to the overall run) and {{previous}} (the preceding step's output).
type PipelineStep struct {
	Persona string `yaml:"persona"`
	Prompt  string `yaml:"prompt"`
}

// Pipeline is an ordered, statically defined sequence of workers. Parsed once
// from configuration; never mutated during execution.
type Pipeline struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []PipelineStep `yaml:"steps"`
}

// Roster names a group of personas that a dispatcher can activate together.
type Roster struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

// Definitions is the .crew/pipelines.yaml content.
type Definitions struct {
	Pipelines []Pipeline `yaml:"pipelines"`
	Rosters   []Roster   `yaml:"rosters"`
}

// LoadDefinitions reads and validates pipeline and roster definitions.
// A missing file yields empty definitions, not an error.
func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Definitions{}, nil
		}
		return nil, err
	}
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("%s is malformed: %w", path, err)
	}
	if err := defs.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &defs, nil
}

func (d *Definitions) validate() error {
	seen := make(map[string]bool)
	for i, p := range d.Pipelines {
		if p.Name == "" {
			return fmt.Errorf("pipeline %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate pipeline name: %s", p.Name)
		}
		seen[p.Name] = true
		if len(p.Steps) == 0 {
			return fmt.Errorf("pipeline %s has no steps", p.Name)
		}
		for j, s := range p.Steps {
			if s.Persona == "" {
				return fmt.Errorf("pipeline %s step %d has no persona", p.Name, j)
			}
			if s.Prompt == "" {
				return fmt.Errorf("pipeline %s step %d has no prompt", p.Name, j)
			}
		}
	}
	rosterSeen := make(map[string]bool)
	for i, r := range d.Rosters {
		if r.Name == "" {
			return fmt.Errorf("roster %d has no name", i)
		}
		if rosterSeen[r.Name] {
			return fmt.Errorf("duplicate roster name: %s", r.Name)
		}
		rosterSeen[r.Name] = true
		if len(r.Members) == 0 {
			return fmt.Errorf("roster %s has no members", r.Name)
		}
	}
	return nil
}

// PipelineByName returns the named pipeline, or nil.
func (d *Definitions) PipelineByName(name string) *Pipeline {
	for i := range d.Pipelines {
		if d.Pipelines[i].Name == name {
			return &d.Pipelines[i]
		}
	}
	return nil
}

// RosterByName returns the named roster, or nil.
func (d *Definitions) RosterByName(name string) *Roster {
	for i := range d.Rosters {
		if d.Rosters[i].Name == name {
			return &d.Rosters[i]
		}
	}
	return nil
}

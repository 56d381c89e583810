package data

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vyuha/server/internal/world"
)

// ScenarioMutation is one mutation as written in a scenario file. Payload
// is free-form YAML and must convert to the JSON payload of Type.
type ScenarioMutation struct {
	Type    string `yaml:"type"`
	Payload any    `yaml:"payload"`
}

// ScenarioEntry is a preset world: an optional grid size and environment
// followed by a mutation batch applied to an empty world.
type ScenarioEntry struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Grid        *world.Grid        `yaml:"grid"`
	Environment map[string]any     `yaml:"environment"`
	Mutations   []ScenarioMutation `yaml:"mutations"`

	batch []world.Mutation
}

// Batch returns the scenario as a mutation batch. Grid and environment
// come first so that entities are placed on the final grid.
func (e *ScenarioEntry) Batch() []world.Mutation {
	return e.batch
}

func (e *ScenarioEntry) compile() error {
	var out []world.Mutation
	if e.Grid != nil {
		out = append(out, world.NewMutation(world.MutModifyGrid, e.Grid))
	}
	if len(e.Environment) > 0 {
		out = append(out, world.NewMutation(world.MutModifyEnvironment, e.Environment))
	}
	for i, m := range e.Mutations {
		if m.Type == "" {
			return fmt.Errorf("mutation %d: missing type", i)
		}
		raw, err := json.Marshal(m.Payload)
		if err != nil {
			return fmt.Errorf("mutation %d (%s): %w", i, m.Type, err)
		}
		if m.Payload == nil {
			raw = []byte("{}")
		}
		out = append(out, world.Mutation{Type: world.MutationType(m.Type), Payload: raw})
	}
	e.batch = out
	return nil
}

// ScenarioTable holds the scenarios found in one directory, keyed by name.
type ScenarioTable struct {
	scenarios map[string]*ScenarioEntry
}

// LoadScenarioTable loads every *.yaml file in dir. A scenario without a
// name takes its file name.
func LoadScenarioTable(dir string) (*ScenarioTable, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	t := &ScenarioTable{scenarios: make(map[string]*ScenarioEntry, len(files))}
	for _, f := range files {
		e, err := loadScenario(f)
		if err != nil {
			return nil, err
		}
		if _, dup := t.scenarios[e.Name]; dup {
			return nil, fmt.Errorf("scenario %q defined twice (%s)", e.Name, f)
		}
		t.scenarios[e.Name] = e
	}
	return t, nil
}

func loadScenario(path string) (*ScenarioEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var e ScenarioEntry
	if err := yaml.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if e.Name == "" {
		e.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := e.compile(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", e.Name, err)
	}
	return &e, nil
}

// Get returns the named scenario, or nil if none.
func (t *ScenarioTable) Get(name string) *ScenarioEntry {
	if t == nil {
		return nil
	}
	return t.scenarios[name]
}

// Names returns all scenario names, sorted.
func (t *ScenarioTable) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.scenarios))
	for n := range t.scenarios {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of scenarios loaded.
func (t *ScenarioTable) Count() int {
	if t == nil {
		return 0
	}
	return len(t.scenarios)
}

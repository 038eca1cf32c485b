package machine

import (
	"fmt"
	"strings"
)

// ConfigSet is a collection of machine definitions loaded from YAML or JSON.
type ConfigSet struct {
	Version  int             `json:"version" yaml:"version"`
	Machines []MachineConfig `json:"machines" yaml:"machines"`
}

// Validate performs basic structural validation.
func (c ConfigSet) Validate() error {
	seen := map[string]struct{}{}
	for idx, m := range c.Machines {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("machine[%d]: %w", idx, err)
		}
		name := normalizeEvent(m.Name)
		if _, dup := seen[name]; dup {
			return fmt.Errorf("machine[%d]: duplicate machine %q", idx, m.Name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Machine returns the config for name.
func (c ConfigSet) Machine(name string) (MachineConfig, bool) {
	for _, m := range c.Machines {
		if normalizeEvent(m.Name) == normalizeEvent(name) {
			return m, true
		}
	}
	return MachineConfig{}, false
}

// MachineConfig is the serializable form of a Definition. Guards and hooks
// are referenced by registry name.
type MachineConfig struct {
	Name    string         `json:"name" yaml:"name"`
	Version string         `json:"version,omitempty" yaml:"version,omitempty"`
	States  []StateConfig  `json:"states" yaml:"states"`
	Events  []EventConfig  `json:"events" yaml:"events"`
	Meta    map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// StateConfig describes a state.
type StateConfig struct {
	Name        string         `json:"name" yaml:"name"`
	Initial     bool           `json:"initial,omitempty" yaml:"initial,omitempty"`
	Terminal    bool           `json:"terminal,omitempty" yaml:"terminal,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// EventConfig describes an event and its transitions.
type EventConfig struct {
	Name        string             `json:"name" yaml:"name"`
	Transitions []TransitionConfig `json:"transitions" yaml:"transitions"`
}

// TransitionConfig describes one transition.
type TransitionConfig struct {
	From     []string       `json:"from" yaml:"from"`
	To       string         `json:"to" yaml:"to"`
	Guards   []string       `json:"guards,omitempty" yaml:"guards,omitempty"`
	Before   []string       `json:"before,omitempty" yaml:"before,omitempty"`
	After    []string       `json:"after,omitempty" yaml:"after,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Validate checks required fields. Graph level checks happen in BuildTable.
func (c MachineConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(c.States) == 0 {
		return fmt.Errorf("machine %s requires states", c.Name)
	}
	for i, ev := range c.Events {
		if strings.TrimSpace(ev.Name) == "" {
			return fmt.Errorf("machine %s event[%d] requires a name", c.Name, i)
		}
		for j, tr := range ev.Transitions {
			if len(tr.From) == 0 || strings.TrimSpace(tr.To) == "" {
				return fmt.Errorf("machine %s event %s transition[%d] requires from and to", c.Name, ev.Name, j)
			}
		}
	}
	return nil
}

package machine

import (
	"strings"

	fsm "github.com/goliatone/go-fsm"
)

// AnyState in a transition's From list matches every non-terminal state.
const AnyState = "*"

// Args carries the positional arguments passed to Fire.
type Args []any

// Get returns the argument at idx or nil when absent.
func (a Args) Get(idx int) any {
	if idx < 0 || idx >= len(a) {
		return nil
	}
	return a[idx]
}

// String returns the argument at idx when it is a string.
func (a Args) String(idx int) (string, bool) {
	s, ok := a.Get(idx).(string)
	return s, ok
}

// StateDefinition describes a named state.
type StateDefinition struct {
	Name        string
	Initial     bool
	Terminal    bool
	Description string
	Metadata    map[string]any
}

// Transition maps a set of source states to a target for one event.
type Transition[R fsm.Record] struct {
	From     []string
	To       string
	Guards   []Guard[R]
	Before   []Hook[R]
	After    []Hook[R]
	Metadata map[string]any
}

// EventDefinition groups the transitions triggered by an event.
type EventDefinition[R fsm.Record] struct {
	Name        string
	Transitions []Transition[R]
}

// Definition is the full static description of a machine.
type Definition[R fsm.Record] struct {
	Name    string
	Version string
	States  []StateDefinition
	Events  []EventDefinition[R]
}

func normalizeState(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeEvent(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func transitionKey(state, event string) string {
	return state + "::" + event
}

func copyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

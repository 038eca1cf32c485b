package machine

import (
	"fmt"
	"sort"
	"strings"

	fsm "github.com/goliatone/go-fsm"
)

// Warning codes emitted while building a table.
const (
	WarnUnreachableState = "UNREACHABLE_STATE"
	WarnEmptyEvent       = "EMPTY_EVENT"
)

// Warning is a non fatal configuration diagnostic.
type Warning struct {
	Code    string
	Subject string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Code, w.Message)
}

// CompiledTransition is a validated transition resolved for lookup.
type CompiledTransition[R fsm.Record] struct {
	ID       string
	Event    string
	From     []string
	To       string
	Guards   []Guard[R]
	Before   []Hook[R]
	After    []Hook[R]
	Metadata map[string]any
}

// Table is the immutable (state, event) lookup structure of a machine.
type Table[R fsm.Record] struct {
	machine     string
	initial     string
	states      map[string]StateDefinition
	stateOrder  []string
	eventOrder  []string
	transitions []*CompiledTransition[R]
	index       map[string]*CompiledTransition[R]
	warnings    []Warning
}

// MustBuildTable is like BuildTable but panics on configuration errors.
func MustBuildTable[R fsm.Record](machine string, states []StateDefinition, events []EventDefinition[R]) *Table[R] {
	t, err := BuildTable(machine, states, events)
	if err != nil {
		panic(err)
	}
	return t
}

// BuildTable validates states and events and compiles the lookup table.
func BuildTable[R fsm.Record](machine string, states []StateDefinition, events []EventDefinition[R]) (*Table[R], error) {
	machine = strings.TrimSpace(machine)
	if len(states) == 0 {
		return nil, fsm.ConfigError(machine, "machine must define at least one state")
	}

	t := &Table[R]{
		machine: machine,
		states:  make(map[string]StateDefinition, len(states)),
		index:   make(map[string]*CompiledTransition[R]),
	}

	var initials []string
	for _, st := range states {
		name := normalizeState(st.Name)
		if name == "" {
			return nil, fsm.ConfigError(machine, "state name is required")
		}
		if _, exists := t.states[name]; exists {
			return nil, fsm.ConfigError(machine, fmt.Sprintf("duplicate state %q", st.Name))
		}
		st.Name = name
		st.Metadata = copyMap(st.Metadata)
		t.states[name] = st
		t.stateOrder = append(t.stateOrder, name)
		if st.Initial {
			initials = append(initials, name)
		}
	}
	switch len(initials) {
	case 0:
		return nil, fsm.ConfigError(machine, "machine must define exactly one initial state, found none")
	case 1:
		t.initial = initials[0]
	default:
		return nil, fsm.ConfigError(machine, fmt.Sprintf("machine must define exactly one initial state, found %s", strings.Join(initials, ", ")))
	}

	seenEvents := make(map[string]struct{}, len(events))
	for _, ev := range events {
		event := normalizeEvent(ev.Name)
		if event == "" {
			return nil, fsm.ConfigError(machine, "event name is required")
		}
		if _, exists := seenEvents[event]; exists {
			return nil, fsm.ConfigError(machine, fmt.Sprintf("duplicate event %q", ev.Name))
		}
		seenEvents[event] = struct{}{}
		t.eventOrder = append(t.eventOrder, event)

		if len(ev.Transitions) == 0 {
			t.warnings = append(t.warnings, Warning{
				Code:    WarnEmptyEvent,
				Subject: event,
				Message: fmt.Sprintf("event %q defines no transitions", event),
			})
			continue
		}

		for idx, tr := range ev.Transitions {
			compiled, err := t.compileTransition(event, idx, tr)
			if err != nil {
				return nil, err
			}
			for _, from := range compiled.From {
				key := transitionKey(from, event)
				if prev, exists := t.index[key]; exists {
					return nil, fsm.ConfigError(machine, fmt.Sprintf(
						"ambiguous transitions %s and %s for event %q overlap on state %q",
						prev.ID, compiled.ID, event, from,
					))
				}
				t.index[key] = compiled
			}
			t.transitions = append(t.transitions, compiled)
		}
	}

	t.warnings = append(t.warnings, t.unreachableStates()...)
	return t, nil
}

func (t *Table[R]) compileTransition(event string, idx int, tr Transition[R]) (*CompiledTransition[R], error) {
	id := fmt.Sprintf("%s[%d]", event, idx)

	to := normalizeState(tr.To)
	if to == "" {
		return nil, fsm.ConfigError(t.machine, fmt.Sprintf("transition %s requires a target state", id))
	}
	if _, ok := t.states[to]; !ok {
		return nil, fsm.ConfigError(t.machine, fmt.Sprintf("transition %s references undefined target state %q", id, tr.To))
	}
	if len(tr.From) == 0 {
		return nil, fsm.ConfigError(t.machine, fmt.Sprintf("transition %s requires at least one source state", id))
	}

	from, err := t.resolveSources(id, tr.From)
	if err != nil {
		return nil, err
	}

	for i, g := range tr.Guards {
		if g.Allow == nil {
			return nil, fsm.ConfigError(t.machine, fmt.Sprintf("transition %s guard[%d] %q has no predicate", id, i, g.Name))
		}
	}
	for i, h := range tr.Before {
		if h.Run == nil {
			return nil, fsm.ConfigError(t.machine, fmt.Sprintf("transition %s before hook[%d] %q has no function", id, i, h.Name))
		}
	}
	for i, h := range tr.After {
		if h.Run == nil {
			return nil, fsm.ConfigError(t.machine, fmt.Sprintf("transition %s after hook[%d] %q has no function", id, i, h.Name))
		}
	}

	return &CompiledTransition[R]{
		ID:       id,
		Event:    event,
		From:     from,
		To:       to,
		Guards:   append([]Guard[R](nil), tr.Guards...),
		Before:   append([]Hook[R](nil), tr.Before...),
		After:    append([]Hook[R](nil), tr.After...),
		Metadata: copyMap(tr.Metadata),
	}, nil
}

func (t *Table[R]) resolveSources(id string, sources []string) ([]string, error) {
	seen := make(map[string]struct{}, len(sources))
	out := make([]string, 0, len(sources))
	add := func(state string) {
		if _, dup := seen[state]; dup {
			return
		}
		seen[state] = struct{}{}
		out = append(out, state)
	}

	for _, raw := range sources {
		from := normalizeState(raw)
		if from == AnyState {
			for _, name := range t.stateOrder {
				if !t.states[name].Terminal {
					add(name)
				}
			}
			continue
		}
		st, ok := t.states[from]
		if !ok {
			return nil, fsm.ConfigError(t.machine, fmt.Sprintf("transition %s references undefined source state %q", id, raw))
		}
		if st.Terminal {
			return nil, fsm.ConfigError(t.machine, fmt.Sprintf("transition %s leaves terminal state %q", id, from))
		}
		add(from)
	}
	return out, nil
}

// unreachableStates walks the graph breadth first from the initial state.
func (t *Table[R]) unreachableStates() []Warning {
	reachable := map[string]bool{t.initial: true}
	queue := []string{t.initial}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, event := range t.eventOrder {
			tr, ok := t.index[transitionKey(current, event)]
			if !ok || reachable[tr.To] {
				continue
			}
			reachable[tr.To] = true
			queue = append(queue, tr.To)
		}
	}

	var out []Warning
	for _, name := range t.stateOrder {
		if reachable[name] {
			continue
		}
		out = append(out, Warning{
			Code:    WarnUnreachableState,
			Subject: name,
			Message: fmt.Sprintf("state %q is not reachable from initial state %q", name, t.initial),
		})
	}
	return out
}

// Lookup returns the transition for (state, event). Unknown events return false.
func (t *Table[R]) Lookup(state, event string) (*CompiledTransition[R], bool) {
	if t == nil {
		return nil, false
	}
	tr, ok := t.index[transitionKey(normalizeState(state), normalizeEvent(event))]
	return tr, ok
}

// CanFire reports whether event is defined from state. It agrees with Lookup.
func (t *Table[R]) CanFire(state, event string) bool {
	_, ok := t.Lookup(state, event)
	return ok
}

// Machine returns the owning machine name.
func (t *Table[R]) Machine() string { return t.machine }

// Initial returns the initial state.
func (t *Table[R]) Initial() string { return t.initial }

// Warnings returns non fatal configuration diagnostics.
func (t *Table[R]) Warnings() []Warning {
	return append([]Warning(nil), t.warnings...)
}

// States returns state definitions in declaration order.
func (t *Table[R]) States() []StateDefinition {
	out := make([]StateDefinition, 0, len(t.stateOrder))
	for _, name := range t.stateOrder {
		out = append(out, t.states[name])
	}
	return out
}

// State returns the definition of a state.
func (t *Table[R]) State(name string) (StateDefinition, bool) {
	st, ok := t.states[normalizeState(name)]
	return st, ok
}

// IsTerminal reports whether state is declared terminal.
func (t *Table[R]) IsTerminal(state string) bool {
	st, ok := t.State(state)
	return ok && st.Terminal
}

// Events returns event names in declaration order.
func (t *Table[R]) Events() []string {
	return append([]string(nil), t.eventOrder...)
}

// EventsFrom returns the sorted events defined from state.
func (t *Table[R]) EventsFrom(state string) []string {
	state = normalizeState(state)
	var out []string
	for _, event := range t.eventOrder {
		if _, ok := t.index[transitionKey(state, event)]; ok {
			out = append(out, event)
		}
	}
	sort.Strings(out)
	return out
}

// Transitions returns compiled transitions in declaration order.
func (t *Table[R]) Transitions() []*CompiledTransition[R] {
	return append([]*CompiledTransition[R](nil), t.transitions...)
}

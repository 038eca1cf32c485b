package machine

import (
	fsm "github.com/goliatone/go-fsm"
)

// Builder provides a fluent API for authoring machine definitions in Go.
type Builder[R fsm.Record] struct {
	def Definition[R]
}

// NewBuilder starts a definition named name.
func NewBuilder[R fsm.Record](name string) *Builder[R] {
	return &Builder[R]{def: Definition[R]{Name: name}}
}

// Version sets the definition version.
func (b *Builder[R]) Version(v string) *Builder[R] {
	b.def.Version = v
	return b
}

// Initial declares the initial state.
func (b *Builder[R]) Initial(name string) *Builder[R] {
	b.def.States = append(b.def.States, StateDefinition{Name: name, Initial: true})
	return b
}

// State declares intermediate states.
func (b *Builder[R]) State(names ...string) *Builder[R] {
	for _, name := range names {
		b.def.States = append(b.def.States, StateDefinition{Name: name})
	}
	return b
}

// Terminal declares terminal states.
func (b *Builder[R]) Terminal(names ...string) *Builder[R] {
	for _, name := range names {
		b.def.States = append(b.def.States, StateDefinition{Name: name, Terminal: true})
	}
	return b
}

// Describe sets the description of a declared state.
func (b *Builder[R]) Describe(state, description string) *Builder[R] {
	for i := range b.def.States {
		if normalizeState(b.def.States[i].Name) == normalizeState(state) {
			b.def.States[i].Description = description
		}
	}
	return b
}

// Event starts (or reopens) an event.
func (b *Builder[R]) Event(name string) *EventBuilder[R] {
	for i := range b.def.Events {
		if normalizeEvent(b.def.Events[i].Name) == normalizeEvent(name) {
			return &EventBuilder[R]{b: b, idx: i}
		}
	}
	b.def.Events = append(b.def.Events, EventDefinition[R]{Name: name})
	return &EventBuilder[R]{b: b, idx: len(b.def.Events) - 1}
}

// Definition returns a copy of the accumulated definition.
func (b *Builder[R]) Definition() Definition[R] {
	def := b.def
	def.States = append([]StateDefinition(nil), b.def.States...)
	def.Events = make([]EventDefinition[R], len(b.def.Events))
	for i, ev := range b.def.Events {
		def.Events[i] = EventDefinition[R]{
			Name:        ev.Name,
			Transitions: append([]Transition[R](nil), ev.Transitions...),
		}
	}
	return def
}

// Build validates the definition and returns a machine.
func (b *Builder[R]) Build(opts ...Option) (*Machine[R], error) {
	return New(b.Definition(), opts...)
}

// MustBuild is like Build but panics on configuration errors.
func (b *Builder[R]) MustBuild(opts ...Option) *Machine[R] {
	return MustNew(b.Definition(), opts...)
}

// EventBuilder adds transitions to one event.
type EventBuilder[R fsm.Record] struct {
	b   *Builder[R]
	idx int
}

// From starts a transition leaving the given states.
func (e *EventBuilder[R]) From(states ...string) *TransitionBuilder[R] {
	ev := &e.b.def.Events[e.idx]
	ev.Transitions = append(ev.Transitions, Transition[R]{From: append([]string(nil), states...)})
	return &TransitionBuilder[R]{e: e, idx: len(ev.Transitions) - 1}
}

// FromAny starts a transition leaving every non-terminal state.
func (e *EventBuilder[R]) FromAny() *TransitionBuilder[R] {
	return e.From(AnyState)
}

// TransitionBuilder configures one transition.
type TransitionBuilder[R fsm.Record] struct {
	e   *EventBuilder[R]
	idx int
}

func (t *TransitionBuilder[R]) tr() *Transition[R] {
	return &t.e.b.def.Events[t.e.idx].Transitions[t.idx]
}

// To sets the target state.
func (t *TransitionBuilder[R]) To(state string) *TransitionBuilder[R] {
	t.tr().To = state
	return t
}

// Guard appends guards, evaluated in declaration order.
func (t *TransitionBuilder[R]) Guard(guards ...Guard[R]) *TransitionBuilder[R] {
	tr := t.tr()
	tr.Guards = append(tr.Guards, guards...)
	return t
}

// Before appends before hooks.
func (t *TransitionBuilder[R]) Before(hooks ...Hook[R]) *TransitionBuilder[R] {
	tr := t.tr()
	tr.Before = append(tr.Before, hooks...)
	return t
}

// After appends after hooks.
func (t *TransitionBuilder[R]) After(hooks ...Hook[R]) *TransitionBuilder[R] {
	tr := t.tr()
	tr.After = append(tr.After, hooks...)
	return t
}

// Meta sets a metadata entry on the transition.
func (t *TransitionBuilder[R]) Meta(key string, value any) *TransitionBuilder[R] {
	tr := t.tr()
	if tr.Metadata == nil {
		tr.Metadata = map[string]any{}
	}
	tr.Metadata[key] = value
	return t
}

// From starts another transition on the same event.
func (t *TransitionBuilder[R]) From(states ...string) *TransitionBuilder[R] {
	return t.e.From(states...)
}

// Event starts another event.
func (t *TransitionBuilder[R]) Event(name string) *EventBuilder[R] {
	return t.e.b.Event(name)
}

// Done returns the owning builder.
func (t *TransitionBuilder[R]) Done() *Builder[R] {
	return t.e.b
}

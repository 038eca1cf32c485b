package machine

import (
	"testing"

	fsm "github.com/goliatone/go-fsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTableLookup(t *testing.T) {
	table, err := BuildTable("ticket", ticketStates(), ticketEvents())
	require.NoError(t, err)

	tr, ok := table.Lookup(" Open ", "START")
	require.True(t, ok)
	assert.Equal(t, "in_progress", tr.To)
	assert.Equal(t, "open", table.Initial())
	assert.Equal(t, "ticket", table.Machine())

	_, ok = table.Lookup("open", "unknown")
	assert.False(t, ok)
	_, ok = table.Lookup("closed", "start")
	assert.False(t, ok)
}

func TestTableCanFireAgreesWithLookup(t *testing.T) {
	table := MustBuildTable("ticket", ticketStates(), ticketEvents())

	for _, st := range table.States() {
		for _, ev := range append(table.Events(), "missing") {
			_, ok := table.Lookup(st.Name, ev)
			assert.Equal(t, ok, table.CanFire(st.Name, ev), "%s::%s", st.Name, ev)
		}
	}
}

func TestAnyStateExpandsToNonTerminalStates(t *testing.T) {
	table := MustBuildTable("ticket", ticketStates(), ticketEvents())

	for _, state := range []string{"open", "in_progress", "resolved"} {
		assert.True(t, table.CanFire(state, "cancel"), state)
	}
	assert.False(t, table.CanFire("closed", "cancel"))
	assert.False(t, table.CanFire("cancelled", "cancel"))
}

func TestTerminalStatesHaveNoEvents(t *testing.T) {
	table := MustBuildTable("ticket", ticketStates(), ticketEvents())

	assert.True(t, table.IsTerminal("closed"))
	assert.Empty(t, table.EventsFrom("closed"))
	assert.Equal(t, []string{"cancel", "start"}, table.EventsFrom("open"))
}

func TestBuildTableConfigurationErrors(t *testing.T) {
	cases := []struct {
		name   string
		states []StateDefinition
		events []EventDefinition[*testRecord]
	}{
		{
			name:   "no states",
			states: nil,
		},
		{
			name:   "no initial state",
			states: []StateDefinition{{Name: "a"}, {Name: "b"}},
		},
		{
			name:   "two initial states",
			states: []StateDefinition{{Name: "a", Initial: true}, {Name: "b", Initial: true}},
		},
		{
			name:   "duplicate state",
			states: []StateDefinition{{Name: "a", Initial: true}, {Name: " A "}},
		},
		{
			name:   "undefined target",
			states: []StateDefinition{{Name: "a", Initial: true}},
			events: []EventDefinition[*testRecord]{{Name: "go", Transitions: []Transition[*testRecord]{{From: []string{"a"}, To: "b"}}}},
		},
		{
			name:   "undefined source",
			states: []StateDefinition{{Name: "a", Initial: true}, {Name: "b"}},
			events: []EventDefinition[*testRecord]{{Name: "go", Transitions: []Transition[*testRecord]{{From: []string{"x"}, To: "b"}}}},
		},
		{
			name:   "terminal source",
			states: []StateDefinition{{Name: "a", Initial: true}, {Name: "b", Terminal: true}},
			events: []EventDefinition[*testRecord]{{Name: "back", Transitions: []Transition[*testRecord]{{From: []string{"b"}, To: "a"}}}},
		},
		{
			name:   "duplicate event",
			states: []StateDefinition{{Name: "a", Initial: true}, {Name: "b"}},
			events: []EventDefinition[*testRecord]{
				{Name: "go", Transitions: []Transition[*testRecord]{{From: []string{"a"}, To: "b"}}},
				{Name: "GO", Transitions: []Transition[*testRecord]{{From: []string{"b"}, To: "a"}}},
			},
		},
		{
			name:   "nil guard predicate",
			states: []StateDefinition{{Name: "a", Initial: true}, {Name: "b"}},
			events: []EventDefinition[*testRecord]{{Name: "go", Transitions: []Transition[*testRecord]{{
				From: []string{"a"}, To: "b", Guards: []Guard[*testRecord]{{Name: "broken"}},
			}}}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildTable("broken", tc.states, tc.events)
			require.Error(t, err)
			assert.True(t, fsm.IsConfiguration(err), "unexpected error %v", err)
		})
	}
}

func TestBuildTableRejectsAmbiguousTransitions(t *testing.T) {
	states := []StateDefinition{{Name: "draft", Initial: true}, {Name: "review"}, {Name: "published"}}
	events := []EventDefinition[*testRecord]{{
		Name: "submit",
		Transitions: []Transition[*testRecord]{
			{From: []string{"draft", "review"}, To: "published"},
			{From: []string{"review"}, To: "draft"},
		},
	}}

	_, err := BuildTable("article", states, events)
	require.Error(t, err)
	assert.Equal(t, fsm.CodeConfiguration, fsm.Code(err))
	assert.Contains(t, err.Error(), "ambiguous")

	assert.Panics(t, func() { MustBuildTable("article", states, events) })
}

func TestBuildTableRejectsWildcardOverlap(t *testing.T) {
	events := ticketEvents(EventDefinition[*testRecord]{
		Name: "escalate",
		Transitions: []Transition[*testRecord]{
			{From: []string{AnyState}, To: "in_progress"},
			{From: []string{"open"}, To: "resolved"},
		},
	})
	_, err := BuildTable("ticket", ticketStates(), events)
	require.Error(t, err)
}

func TestDisjointTransitionsForSameEvent(t *testing.T) {
	states := []StateDefinition{{Name: "draft", Initial: true}, {Name: "review"}, {Name: "published"}}
	events := []EventDefinition[*testRecord]{{
		Name: "advance",
		Transitions: []Transition[*testRecord]{
			{From: []string{"draft"}, To: "review"},
			{From: []string{"review"}, To: "published"},
		},
	}}

	table, err := BuildTable("article", states, events)
	require.NoError(t, err)
	tr, _ := table.Lookup("review", "advance")
	assert.Equal(t, "published", tr.To)
	assert.Equal(t, "advance[1]", tr.ID)
}

func TestUnreachableStatesAreWarnings(t *testing.T) {
	states := append(ticketStates(), StateDefinition{Name: "archived"})

	table, err := BuildTable("ticket", states, ticketEvents(EventDefinition[*testRecord]{Name: "noop"}))
	require.NoError(t, err)

	var codes []string
	var subjects []string
	for _, w := range table.Warnings() {
		codes = append(codes, w.Code)
		subjects = append(subjects, w.Subject)
	}
	assert.Contains(t, codes, WarnUnreachableState)
	assert.Contains(t, codes, WarnEmptyEvent)
	assert.Contains(t, subjects, "archived")
	assert.NotContains(t, subjects, "closed")
}

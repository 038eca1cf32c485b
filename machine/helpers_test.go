package machine

import (
	"context"
	"fmt"
)

type testRecord struct {
	id         string
	state      string
	amount     int
	persistErr error
	persisted  []string
}

func newTestRecord(state string) *testRecord {
	return &testRecord{id: "rec-1", state: state}
}

func (r *testRecord) RecordID() string   { return r.id }
func (r *testRecord) State() string      { return r.state }
func (r *testRecord) SetState(s string)  { r.state = s }
func (r *testRecord) RecordKind() string { return "ticket" }

func (r *testRecord) Persist(context.Context) error {
	if r.persistErr != nil {
		return r.persistErr
	}
	r.persisted = append(r.persisted, r.state)
	return nil
}

// ticketStates: open -> in_progress -> resolved -> closed, cancel from any.
func ticketStates() []StateDefinition {
	return []StateDefinition{
		{Name: "open", Initial: true},
		{Name: "in_progress"},
		{Name: "resolved"},
		{Name: "closed", Terminal: true},
		{Name: "cancelled", Terminal: true},
	}
}

func ticketEvents(extra ...EventDefinition[*testRecord]) []EventDefinition[*testRecord] {
	events := []EventDefinition[*testRecord]{
		{Name: "start", Transitions: []Transition[*testRecord]{{From: []string{"open"}, To: "in_progress"}}},
		{Name: "resolve", Transitions: []Transition[*testRecord]{{From: []string{"in_progress"}, To: "resolved"}}},
		{Name: "close", Transitions: []Transition[*testRecord]{{From: []string{"resolved"}, To: "closed"}}},
		{Name: "cancel", Transitions: []Transition[*testRecord]{{From: []string{AnyState}, To: "cancelled"}}},
	}
	return append(events, extra...)
}

type callLog struct {
	calls []string
}

func (c *callLog) guard(name string, allow bool) Guard[*testRecord] {
	return NewGuard(name, func(context.Context, *testRecord, Args) bool {
		c.calls = append(c.calls, "guard:"+name)
		return allow
	})
}

func (c *callLog) hook(name string, err error) Hook[*testRecord] {
	return NewHook(name, func(context.Context, *Attempt[*testRecord]) error {
		c.calls = append(c.calls, "hook:"+name)
		return err
	})
}

func (c *callLog) String() string { return fmt.Sprint(c.calls) }

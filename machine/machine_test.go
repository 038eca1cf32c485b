package machine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	fsm "github.com/goliatone/go-fsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTicketMachine(t *testing.T, extra []EventDefinition[*testRecord], opts ...Option) *Machine[*testRecord] {
	t.Helper()
	opts = append([]Option{WithLogger(fsm.NopLogger{})}, opts...)
	m, err := New(Definition[*testRecord]{
		Name:    "ticket",
		Version: "1",
		States:  ticketStates(),
		Events:  ticketEvents(extra...),
	}, opts...)
	require.NoError(t, err)
	return m
}

func TestNewDefaultsToSilentLogger(t *testing.T) {
	m, err := New(Definition[*testRecord]{Name: "ticket", States: ticketStates(), Events: ticketEvents()})
	require.NoError(t, err)
	assert.Equal(t, fsm.NopLogger{}, m.logger)
}

func TestFireSuccess(t *testing.T) {
	m := newTicketMachine(t, nil)
	rec := newTestRecord("open")

	res := m.Fire(context.Background(), rec, "start")

	require.True(t, res.Success)
	assert.Equal(t, fsm.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "open", res.From)
	assert.Equal(t, "in_progress", res.To)
	assert.Equal(t, "ticket", res.Machine)
	assert.Equal(t, "rec-1", res.RecordID)
	assert.NotEmpty(t, res.AttemptID)
	assert.Nil(t, res.Err)
	assert.Equal(t, "in_progress", rec.State())
	assert.Equal(t, []string{"in_progress"}, rec.persisted)
}

func TestFireInvalidEventLeavesRecordUntouched(t *testing.T) {
	m := newTicketMachine(t, nil)
	rec := newTestRecord("open")

	res := m.Fire(context.Background(), rec, "close")

	assert.False(t, res.Success)
	assert.Equal(t, fsm.OutcomeInvalidEvent, res.Outcome)
	assert.Equal(t, fsm.CodeInvalidEvent, res.Err.TextCode)
	assert.Equal(t, "open", rec.State())
	assert.Empty(t, rec.persisted)
}

func TestFireFromTerminalStateIsIdempotent(t *testing.T) {
	m := newTicketMachine(t, nil)
	rec := newTestRecord("closed")

	for _, event := range m.Table().Events() {
		res := m.Fire(context.Background(), rec, event)
		assert.Equal(t, fsm.OutcomeInvalidEvent, res.Outcome, event)
	}
	assert.Equal(t, "closed", rec.State())
	assert.Empty(t, rec.persisted)
}

func TestFireIsDeterministic(t *testing.T) {
	m := newTicketMachine(t, nil)

	for _, event := range []string{"start", "resolve", "close", "cancel", "unknown"} {
		a := newTestRecord("in_progress")
		b := newTestRecord("in_progress")
		ra := m.Fire(context.Background(), a, event)
		rb := m.Fire(context.Background(), b, event)
		assert.Equal(t, ra.Outcome, rb.Outcome, event)
		assert.Equal(t, a.State(), b.State(), event)
	}
}

func TestFireGuardFailure(t *testing.T) {
	log := &callLog{}
	m := newTicketMachine(t, []EventDefinition[*testRecord]{{
		Name: "escalate",
		Transitions: []Transition[*testRecord]{{
			From:   []string{"open"},
			To:     "in_progress",
			Guards: []Guard[*testRecord]{log.guard("priority", true), log.guard("owner_assigned", false), log.guard("never", true)},
			Before: []Hook[*testRecord]{log.hook("before", nil)},
			After:  []Hook[*testRecord]{log.hook("after", nil)},
		}},
	}})
	rec := newTestRecord("open")

	res := m.Fire(context.Background(), rec, "escalate")

	assert.Equal(t, fsm.OutcomeGuardFailed, res.Outcome)
	assert.Equal(t, "owner_assigned", res.FailedGuard)
	assert.Equal(t, "owner_assigned", res.Reason)
	assert.Contains(t, res.ValidationMap(), "owner_assigned")
	assert.Equal(t, []string{"guard:priority", "guard:owner_assigned"}, log.calls)
	assert.Equal(t, "open", rec.State())
	assert.Empty(t, rec.persisted)
}

func TestBeforeHookAbortPreservesStateAndSkipsAfterHooks(t *testing.T) {
	log := &callLog{}
	m := newTicketMachine(t, []EventDefinition[*testRecord]{{
		Name: "escalate",
		Transitions: []Transition[*testRecord]{{
			From:   []string{"open"},
			To:     "in_progress",
			Before: []Hook[*testRecord]{log.hook("reserve", nil), log.hook("charge", errors.New("card declined")), log.hook("skipped", nil)},
			After:  []Hook[*testRecord]{log.hook("notify", nil)},
		}},
	}})
	rec := newTestRecord("open")

	res := m.Fire(context.Background(), rec, "escalate")

	assert.Equal(t, fsm.OutcomeHookAborted, res.Outcome)
	assert.Equal(t, fsm.CodeHookAborted, res.Err.TextCode)
	assert.Equal(t, "card declined", res.Reason)
	assert.Equal(t, "open", rec.State())
	assert.Empty(t, rec.persisted)
	assert.Equal(t, []string{"hook:reserve", "hook:charge"}, log.calls)
}

func TestBeforeHooksSeeAttempt(t *testing.T) {
	var seen *Attempt[*testRecord]
	m := newTicketMachine(t, []EventDefinition[*testRecord]{{
		Name: "escalate",
		Transitions: []Transition[*testRecord]{{
			From: []string{"open"},
			To:   "in_progress",
			Before: []Hook[*testRecord]{NewHook("capture", func(_ context.Context, a *Attempt[*testRecord]) error {
				seen = a
				return nil
			})},
		}},
	}})

	res := m.Fire(context.Background(), newTestRecord("open"), "escalate", "urgent")

	require.True(t, res.Success)
	require.NotNil(t, seen)
	assert.Equal(t, "open", seen.From)
	assert.Equal(t, "in_progress", seen.To)
	assert.Equal(t, "open", seen.Record.State(), "state is not mutated before hooks complete")
	assert.Equal(t, Args{"urgent"}, seen.Args)
	assert.Equal(t, res.AttemptID, seen.ID)
}

func TestAfterHookFailuresAreIsolated(t *testing.T) {
	log := &callLog{}
	var reported []error
	reporter := ErrorReporterFunc(func(_ context.Context, err error, fields map[string]any) {
		reported = append(reported, err)
		assert.Equal(t, "mail", fields["hook"])
	})
	m := newTicketMachine(t, []EventDefinition[*testRecord]{{
		Name: "escalate",
		Transitions: []Transition[*testRecord]{{
			From:  []string{"open"},
			To:    "in_progress",
			After: []Hook[*testRecord]{log.hook("mail", errors.New("smtp down")), log.hook("audit", nil)},
		}},
	}}, WithErrorReporter(reporter))
	rec := newTestRecord("open")

	res := m.Fire(context.Background(), rec, "escalate")

	assert.True(t, res.Success)
	assert.True(t, res.HasWarnings())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, fsm.CodeAfterHookFailed, fsm.Code(res.Warnings[0]))
	assert.Len(t, reported, 1)
	assert.Equal(t, "in_progress", rec.State())
	assert.Equal(t, []string{"hook:mail", "hook:audit"}, log.calls)
}

func TestPersistenceFailureRestoresState(t *testing.T) {
	log := &callLog{}
	m := newTicketMachine(t, []EventDefinition[*testRecord]{{
		Name: "escalate",
		Transitions: []Transition[*testRecord]{{
			From:  []string{"open"},
			To:    "in_progress",
			After: []Hook[*testRecord]{log.hook("notify", nil)},
		}},
	}})

	rec := newTestRecord("open")
	rec.persistErr = errors.New("disk full")
	res := m.Fire(context.Background(), rec, "escalate")

	assert.Equal(t, fsm.OutcomePersistenceFailed, res.Outcome)
	assert.Equal(t, fsm.CodePersistenceFailed, res.Err.TextCode)
	assert.Equal(t, "open", rec.State())
	assert.Empty(t, log.calls)

	rec.persistErr = fmt.Errorf("save ticket: %w", fsm.ErrConflict)
	res = m.Fire(context.Background(), rec, "escalate")

	assert.Equal(t, fsm.OutcomeConcurrentModification, res.Outcome)
	assert.Equal(t, fsm.CodePersistenceConflict, res.Err.TextCode)
	assert.True(t, fsm.IsConflict(res.AsError()))
	assert.Equal(t, "open", rec.State())
}

func setAmount(name string, amount int) Hook[*testRecord] {
	return NewHook(name, func(_ context.Context, a *Attempt[*testRecord]) error {
		prev := a.Record.amount
		a.Record.amount = amount
		a.OnRollback(func() { a.Record.amount = prev })
		return nil
	})
}

func TestPersistenceFailureRollsBackBeforeHooks(t *testing.T) {
	m := newTicketMachine(t, []EventDefinition[*testRecord]{{
		Name: "escalate",
		Transitions: []Transition[*testRecord]{{
			From:   []string{"open"},
			To:     "in_progress",
			Before: []Hook[*testRecord]{setAmount("first", 10), setAmount("second", 20)},
		}},
	}})

	rec := newTestRecord("open")
	rec.amount = 5
	rec.persistErr = fmt.Errorf("save ticket: %w", fsm.ErrConflict)

	res := m.Fire(context.Background(), rec, "escalate")
	assert.Equal(t, fsm.OutcomeConcurrentModification, res.Outcome)
	assert.Equal(t, 5, rec.amount)
	assert.Equal(t, "open", rec.State())

	rec.persistErr = errors.New("disk full")
	res = m.Fire(context.Background(), rec, "escalate")
	assert.Equal(t, fsm.OutcomePersistenceFailed, res.Outcome)
	assert.Equal(t, 5, rec.amount)

	rec.persistErr = nil
	res = m.Fire(context.Background(), rec, "escalate")
	require.True(t, res.Success)
	assert.Equal(t, 20, rec.amount, "rollbacks do not run on commit")
}

func TestBeforeHookAbortRollsBackEarlierHooks(t *testing.T) {
	m := newTicketMachine(t, []EventDefinition[*testRecord]{{
		Name: "escalate",
		Transitions: []Transition[*testRecord]{{
			From: []string{"open"},
			To:   "in_progress",
			Before: []Hook[*testRecord]{
				setAmount("reserve", 99),
				NewHook("explode", func(_ context.Context, a *Attempt[*testRecord]) error {
					a.OnRollback(func() { panic("undo failed") })
					return errors.New("card declined")
				}),
			},
		}},
	}})
	rec := newTestRecord("open")

	res := m.Fire(context.Background(), rec, "escalate")

	assert.Equal(t, fsm.OutcomeHookAborted, res.Outcome)
	assert.Equal(t, 0, rec.amount, "a panicking rollback does not skip earlier ones")
	assert.Equal(t, "open", rec.State())
}

func TestApplyReturnsStructuredErrors(t *testing.T) {
	m := newTicketMachine(t, nil)

	res, err := m.Apply(context.Background(), newTestRecord("open"), "start")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = m.Apply(context.Background(), newTestRecord("closed"), "start")
	require.Error(t, err)
	assert.Equal(t, fsm.CodeInvalidEvent, fsm.Code(err))
	assert.Equal(t, fsm.OutcomeInvalidEvent, res.Outcome)
}

func TestCanFireDoesNotMutate(t *testing.T) {
	log := &callLog{}
	m := newTicketMachine(t, []EventDefinition[*testRecord]{
		{
			Name: "escalate",
			Transitions: []Transition[*testRecord]{{
				From:   []string{"open"},
				To:     "in_progress",
				Guards: []Guard[*testRecord]{log.guard("ok", true)},
				Before: []Hook[*testRecord]{log.hook("before", nil)},
			}},
		},
		{
			Name: "reject",
			Transitions: []Transition[*testRecord]{{
				From:   []string{"open"},
				To:     "closed",
				Guards: []Guard[*testRecord]{log.guard("no", false)},
			}},
		},
	})
	rec := newTestRecord("open")

	assert.True(t, m.CanFire(context.Background(), rec, "escalate"))
	assert.False(t, m.CanFire(context.Background(), rec, "reject"))
	assert.False(t, m.CanFire(context.Background(), rec, "close"))
	assert.Equal(t, []string{"guard:ok", "guard:no"}, log.calls)
	assert.Equal(t, "open", rec.State())
	assert.Empty(t, rec.persisted)

	assert.Equal(t, []string{"cancel", "escalate", "start"}, m.AvailableEvents(context.Background(), rec))
}

func TestFireNilRecord(t *testing.T) {
	m := newTicketMachine(t, nil)
	var rec *testRecord

	res := m.Fire(context.Background(), rec, "start")

	assert.Equal(t, fsm.OutcomeInvalidEvent, res.Outcome)
	assert.False(t, m.CanFire(context.Background(), rec, "start"))
	assert.Nil(t, m.AvailableEvents(context.Background(), rec))
}

func TestObserversSeeEveryResult(t *testing.T) {
	var outcomes []fsm.Outcome
	obs := ObserverFunc(func(_ context.Context, res *fsm.Result) {
		outcomes = append(outcomes, res.Outcome)
	})
	m := newTicketMachine(t, nil, WithObserver(obs))
	rec := newTestRecord("open")

	m.Fire(context.Background(), rec, "start")
	m.Fire(context.Background(), rec, "start")

	assert.Equal(t, []fsm.Outcome{fsm.OutcomeSuccess, fsm.OutcomeInvalidEvent}, outcomes)
}

func TestAuditHooksReceiveLifecyclePhases(t *testing.T) {
	var events []AuditEvent
	audit := AuditHookFunc(func(_ context.Context, evt AuditEvent) error {
		events = append(events, evt)
		return nil
	})
	m := newTicketMachine(t, nil, WithAuditHooks(audit))
	rec := newTestRecord("open")

	m.Fire(context.Background(), rec, "start")
	m.Fire(context.Background(), rec, "close")

	require.Len(t, events, 3)
	assert.Equal(t, AuditPhaseAttempted, events[0].Phase)
	assert.Equal(t, AuditPhaseCommitted, events[1].Phase)
	assert.Equal(t, fsm.OutcomeSuccess, events[1].Outcome)
	assert.Equal(t, "ticket", events[1].RecordKind)
	assert.Equal(t, "1", events[1].Version)
	assert.Equal(t, AuditPhaseRejected, events[2].Phase)
	assert.Equal(t, fsm.CodeInvalidEvent, events[2].ErrorCode)
}

func TestAuditFailureModes(t *testing.T) {
	failing := AuditHookFunc(func(_ context.Context, evt AuditEvent) error {
		if evt.Phase == AuditPhaseAttempted {
			return errors.New("audit store offline")
		}
		return nil
	})

	open := newTicketMachine(t, nil, WithAuditHooks(failing))
	rec := newTestRecord("open")
	assert.True(t, open.Fire(context.Background(), rec, "start").Success)

	closed := newTicketMachine(t, nil, WithAuditHooks(failing), WithAuditFailureMode(HookFailureModeFailClosed))
	rec = newTestRecord("open")
	res := closed.Fire(context.Background(), rec, "start")
	assert.Equal(t, fsm.OutcomeHookAborted, res.Outcome)
	assert.Equal(t, "open", rec.State())
}

func TestNewReturnsConfigurationErrors(t *testing.T) {
	_, err := New(Definition[*testRecord]{Name: "empty"})
	require.Error(t, err)
	assert.True(t, fsm.IsConfiguration(err))

	assert.Panics(t, func() { MustNew(Definition[*testRecord]{Name: "empty"}) })
}

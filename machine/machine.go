package machine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	fsm "github.com/goliatone/go-fsm"
)

// Machine drives records of type R through a compiled transition table.
// It holds no per record state and is safe for concurrent use once built.
type Machine[R fsm.Record] struct {
	name      string
	version   string
	table     *Table[R]
	logger    fsm.Logger
	reporter  ErrorReporter
	observers []Observer
	audit     []AuditHook
	auditMode HookFailureMode
}

// New validates def and builds a machine.
func New[R fsm.Record](def Definition[R], opts ...Option) (*Machine[R], error) {
	table, err := BuildTable(def.Name, def.States, def.Events)
	if err != nil {
		return nil, err
	}

	o := &options{auditMode: HookFailureModeFailOpen}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	m := &Machine[R]{
		name:      table.Machine(),
		version:   strings.TrimSpace(def.Version),
		table:     table,
		logger:    fsm.NormalizeLogger(o.logger),
		reporter:  o.reporter,
		observers: o.observers,
		audit:     o.audit,
		auditMode: o.auditMode,
	}

	for _, w := range table.Warnings() {
		m.logger.Warn("machine %s: %s", m.name, w)
	}
	return m, nil
}

// MustNew is like New but panics on configuration errors.
func MustNew[R fsm.Record](def Definition[R], opts ...Option) *Machine[R] {
	m, err := New(def, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Name returns the machine name.
func (m *Machine[R]) Name() string { return m.name }

// Version returns the definition version.
func (m *Machine[R]) Version() string { return m.version }

// Initial returns the initial state new records should start in.
func (m *Machine[R]) Initial() string { return m.table.Initial() }

// Table returns the compiled transition table.
func (m *Machine[R]) Table() *Table[R] { return m.table }

// Fire attempts event on rec. Business outcomes are reported in the result,
// never as a Go error.
func (m *Machine[R]) Fire(ctx context.Context, rec R, event string, args ...any) *fsm.Result {
	if ctx == nil {
		ctx = context.Background()
	}
	if fsm.IsNilRecord(rec) {
		return &fsm.Result{
			Machine: m.name,
			Event:   normalizeEvent(event),
			Outcome: fsm.OutcomeInvalidEvent,
			Err: fsm.NewError(fsm.ErrInvalidEvent, "cannot fire on a nil record", nil, map[string]any{
				"machine": m.name,
			}),
		}
	}

	attempt := newAttempt(m.name, rec, event, Args(args))
	logger := fsm.WithLoggerFields(m.logger.WithContext(ctx), attempt.fields())
	res := m.fire(ctx, attempt, logger)
	res.Duration = time.Since(attempt.StartedAt)

	for _, obs := range m.observers {
		obs.ObserveResult(ctx, res)
	}
	return res
}

// Apply is the raising variant of Fire: any outcome other than success is
// also returned as a structured error.
func (m *Machine[R]) Apply(ctx context.Context, rec R, event string, args ...any) (*fsm.Result, error) {
	res := m.Fire(ctx, rec, event, args...)
	if res.Success {
		return res, nil
	}
	return res, res.AsError()
}

// CanFire reports whether event is defined from the record's state and all
// guards pass. It runs no hooks and never mutates rec.
func (m *Machine[R]) CanFire(ctx context.Context, rec R, event string, args ...any) bool {
	if fsm.IsNilRecord(rec) {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tr, ok := m.table.Lookup(rec.State(), event)
	if !ok {
		return false
	}
	return EvaluateGuards(ctx, tr.Guards, rec, Args(args)).Passed
}

// AvailableEvents returns the sorted events that CanFire would accept.
func (m *Machine[R]) AvailableEvents(ctx context.Context, rec R, args ...any) []string {
	if fsm.IsNilRecord(rec) {
		return nil
	}
	var out []string
	for _, event := range m.table.EventsFrom(rec.State()) {
		if m.CanFire(ctx, rec, event, args...) {
			out = append(out, event)
		}
	}
	return out
}

func (m *Machine[R]) fire(ctx context.Context, attempt *Attempt[R], logger fsm.Logger) *fsm.Result {
	logger.Debug("fire requested")
	fields := attempt.fields()

	tr, ok := m.table.Lookup(attempt.From, attempt.Event)
	if !ok {
		err := fsm.NewError(
			fsm.ErrInvalidEvent,
			fmt.Sprintf("event %q cannot fire from state %q", attempt.Event, attempt.From),
			nil,
			fields,
		)
		return m.reject(ctx, attempt, fsm.OutcomeInvalidEvent, err, logger)
	}
	attempt.To = tr.To
	attempt.Transition = tr
	fields["to"] = tr.To
	fields["transition_id"] = tr.ID
	logger = fsm.WithLoggerFields(logger, map[string]any{"to": tr.To, "transition_id": tr.ID})

	if err := fanoutAudit(ctx, m.audit, m.auditEvent(AuditPhaseAttempted, attempt, nil), m.auditMode, logger); err != nil {
		abort := fsm.NewError(fsm.ErrHookAborted, "audit hook rejected the attempt", err, fields)
		return m.reject(ctx, attempt, fsm.OutcomeHookAborted, abort, logger)
	}

	if verdict := EvaluateGuards(ctx, tr.Guards, attempt.Record, attempt.Args); !verdict.Passed {
		attempt.FailedGuard = verdict.FailedGuard
		attempt.Reason = verdict.Reason
		fields["guard"] = verdict.FailedGuard
		return m.reject(ctx, attempt, fsm.OutcomeGuardFailed, verdict.AsError(fields), logger)
	}

	if hr := RunBefore(ctx, tr.Before, attempt); hr.Aborted {
		m.rollback(attempt, logger)
		attempt.Reason = hr.Reason()
		fields["hook"] = hr.Hook
		err := fsm.NewError(
			fsm.ErrHookAborted,
			fmt.Sprintf("before hook %s aborted the transition", hr.Hook),
			hr.Err,
			fields,
		)
		return m.reject(ctx, attempt, fsm.OutcomeHookAborted, err, logger)
	}

	if outcome, err := m.persist(ctx, attempt, fields); err != nil {
		m.rollback(attempt, logger)
		return m.reject(ctx, attempt, outcome, err, logger)
	}

	res := attempt.result(fsm.OutcomeSuccess)
	logger.Info("transition committed state=%s", attempt.To)

	for _, failure := range RunAfter(ctx, tr.After, attempt) {
		warn := fsm.NewError(fsm.ErrAfterHookFailed, failure.Error(), failure.Err, mergeFields(fields, map[string]any{
			"hook": failure.Hook,
		}))
		res.Warnings = append(res.Warnings, warn)
		logger.Warn("after hook %s failed: %v", failure.Hook, failure.Err)
		m.report(ctx, warn, warn.Metadata)
	}

	if err := fanoutAudit(ctx, m.audit, m.auditEvent(AuditPhaseCommitted, attempt, res), m.auditMode, logger); err != nil {
		warn := fsm.NewError(fsm.ErrAfterHookFailed, "committed audit hook failed", err, fields)
		res.Warnings = append(res.Warnings, warn)
		m.report(ctx, warn, fields)
	}

	return res
}

// persist sets the target state and saves. On failure the in memory state is
// restored and the outcome for the error is returned. Field changes made by
// before hooks are undone by the caller through the attempt's rollbacks.
func (m *Machine[R]) persist(ctx context.Context, attempt *Attempt[R], fields map[string]any) (fsm.Outcome, *errors.Error) {
	rec := attempt.Record
	previous := rec.State()
	rec.SetState(attempt.To)

	err := fsm.SafeCall("persist", func() error {
		return rec.Persist(ctx)
	})
	if err == nil {
		return fsm.OutcomeSuccess, nil
	}
	rec.SetState(previous)

	if fsm.IsConflict(err) {
		return fsm.OutcomeConcurrentModification, fsm.NewError(
			fsm.ErrPersistenceConflict,
			fmt.Sprintf("record %s was modified concurrently", rec.RecordID()),
			err,
			fields,
		)
	}
	return fsm.OutcomePersistenceFailed, fsm.NewError(fsm.ErrPersistenceFailed, "", err, fields)
}

func (m *Machine[R]) rollback(attempt *Attempt[R], logger fsm.Logger) {
	for _, err := range attempt.rollback() {
		logger.Warn("rollback failed: %v", err)
	}
}

func (m *Machine[R]) reject(
	ctx context.Context,
	attempt *Attempt[R],
	outcome fsm.Outcome,
	err *errors.Error,
	logger fsm.Logger,
) *fsm.Result {
	res := attempt.result(outcome)
	res.Err = err

	switch outcome {
	case fsm.OutcomeInvalidEvent, fsm.OutcomeGuardFailed:
		logger.Debug("fire rejected outcome=%s: %v", outcome, err)
	default:
		logger.Warn("fire rejected outcome=%s: %v", outcome, err)
	}

	if auditErr := fanoutAudit(ctx, m.audit, m.auditEvent(AuditPhaseRejected, attempt, res), m.auditMode, logger); auditErr != nil {
		res.Warnings = append(res.Warnings, auditErr)
		m.report(ctx, auditErr, attempt.fields())
	}
	return res
}

func (m *Machine[R]) report(ctx context.Context, err error, fields map[string]any) {
	if m.reporter == nil || err == nil {
		return
	}
	reportErr := fsm.SafeCall("error_reporter", func() error {
		m.reporter.ReportError(ctx, err, copyMap(fields))
		return nil
	})
	if reportErr != nil {
		m.logger.Error("error reporter failed: %v", reportErr)
	}
}

func mergeFields(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

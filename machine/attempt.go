package machine

import (
	"time"

	fsm "github.com/goliatone/go-fsm"
	"github.com/google/uuid"
)

// Attempt is the ephemeral context of one Fire call. Hooks receive it.
type Attempt[R fsm.Record] struct {
	ID         string
	Machine    string
	Record     R
	Event      string
	Args       Args
	From       string
	To         string
	Transition *CompiledTransition[R]
	// FailedGuard and Reason are set when a guard rejects the attempt.
	FailedGuard string
	Reason      string
	Outcome     fsm.Outcome
	StartedAt   time.Time

	rollbacks []func()
}

func newAttempt[R fsm.Record](machine string, rec R, event string, args Args) *Attempt[R] {
	return &Attempt[R]{
		ID:        uuid.NewString(),
		Machine:   machine,
		Record:    rec,
		Event:     normalizeEvent(event),
		Args:      args,
		From:      normalizeState(rec.State()),
		StartedAt: time.Now(),
	}
}

// OnRollback registers fn to undo a before hook's changes to the record.
// Registered functions run in reverse order when the transition is not
// committed: a later before hook aborts or the record fails to persist.
func (a *Attempt[R]) OnRollback(fn func()) {
	if fn != nil {
		a.rollbacks = append(a.rollbacks, fn)
	}
}

// rollback runs the registered undo functions once, newest first. A
// panicking function does not stop the ones registered before it.
func (a *Attempt[R]) rollback() []error {
	var errs []error
	for i := len(a.rollbacks) - 1; i >= 0; i-- {
		fn := a.rollbacks[i]
		if err := fsm.SafeCall("rollback", func() error {
			fn()
			return nil
		}); err != nil {
			errs = append(errs, err)
		}
	}
	a.rollbacks = nil
	return errs
}

func (a *Attempt[R]) fields() map[string]any {
	return map[string]any{
		"machine":    a.Machine,
		"record_id":  a.Record.RecordID(),
		"event":      a.Event,
		"from":       a.From,
		"to":         a.To,
		"attempt_id": a.ID,
	}
}

func (a *Attempt[R]) result(outcome fsm.Outcome) *fsm.Result {
	a.Outcome = outcome
	return &fsm.Result{
		AttemptID:   a.ID,
		Machine:     a.Machine,
		RecordID:    a.Record.RecordID(),
		Event:       a.Event,
		From:        a.From,
		To:          a.To,
		Outcome:     outcome,
		Success:     outcome == fsm.OutcomeSuccess,
		FailedGuard: a.FailedGuard,
		Reason:      a.Reason,
		Duration:    time.Since(a.StartedAt),
	}
}

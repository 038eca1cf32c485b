package fsm

import (
	"time"

	"github.com/goliatone/go-errors"
)

// Outcome classifies the result of a fire attempt.
type Outcome string

const (
	OutcomeSuccess                Outcome = "success"
	OutcomeInvalidEvent           Outcome = "invalid_event"
	OutcomeGuardFailed            Outcome = "guard_failed"
	OutcomeHookAborted            Outcome = "hook_aborted"
	OutcomePersistenceFailed      Outcome = "persistence_failed"
	OutcomeConcurrentModification Outcome = "concurrent_modification"
)

// Code returns the error text code associated with a failed outcome.
func (o Outcome) Code() string {
	switch o {
	case OutcomeInvalidEvent:
		return CodeInvalidEvent
	case OutcomeGuardFailed:
		return CodeGuardFailed
	case OutcomeHookAborted:
		return CodeHookAborted
	case OutcomePersistenceFailed:
		return CodePersistenceFailed
	case OutcomeConcurrentModification:
		return CodePersistenceConflict
	default:
		return ""
	}
}

// Result describes what happened during a single fire attempt.
type Result struct {
	AttemptID   string
	Machine     string
	RecordID    string
	Event       string
	From        string
	To          string
	Outcome     Outcome
	Success     bool
	FailedGuard string
	Reason      string
	// Err is the structured error for failed outcomes. It is nil on success.
	Err *errors.Error
	// Warnings holds isolated after-hook failures. The transition is committed.
	Warnings []error
	Duration time.Duration
}

// HasWarnings reports whether after hooks failed on a committed transition.
func (r *Result) HasWarnings() bool {
	return r != nil && len(r.Warnings) > 0
}

// AsError returns the structured error as an error value, or nil.
func (r *Result) AsError() error {
	if r == nil || r.Err == nil {
		return nil
	}
	return r.Err
}

// ValidationMap returns field level messages for guard failures.
func (r *Result) ValidationMap() map[string]string {
	if r == nil || r.Err == nil {
		return nil
	}
	return r.Err.ValidationMap()
}

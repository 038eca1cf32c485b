package fsm

import (
	stderrors "errors"
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	CodeConfiguration       = "FSM_CONFIGURATION"
	CodeInvalidEvent        = "FSM_INVALID_EVENT"
	CodeGuardFailed         = "FSM_GUARD_FAILED"
	CodeHookAborted         = "FSM_HOOK_ABORTED"
	CodePersistenceConflict = "FSM_PERSISTENCE_CONFLICT"
	CodePersistenceFailed   = "FSM_PERSISTENCE_FAILED"
	CodeAfterHookFailed     = "FSM_AFTER_HOOK_FAILED"
	CodeListenerFailed      = "FSM_LISTENER_FAILED"
)

var (
	ErrConfiguration = errors.New("invalid machine configuration", errors.CategoryInternal).
				WithTextCode(CodeConfiguration)
	ErrInvalidEvent = errors.New("event not applicable from current state", errors.CategoryBadInput).
			WithTextCode(CodeInvalidEvent)
	ErrGuardFailed = errors.New("transition guard failed", errors.CategoryValidation).
			WithTextCode(CodeGuardFailed)
	ErrHookAborted = errors.New("transition aborted by hook", errors.CategoryOperation).
			WithTextCode(CodeHookAborted)
	ErrPersistenceConflict = errors.New("record modified concurrently", errors.CategoryConflict).
				WithTextCode(CodePersistenceConflict)
	ErrPersistenceFailed = errors.New("failed to persist record", errors.CategoryExternal).
				WithTextCode(CodePersistenceFailed)
	ErrAfterHookFailed = errors.New("after hook failed", errors.CategoryExternal).
				WithTextCode(CodeAfterHookFailed).
				WithSeverity(errors.SeverityWarning)
	ErrListenerFailed = errors.New("listener failed", errors.CategoryExternal).
				WithTextCode(CodeListenerFailed).
				WithSeverity(errors.SeverityWarning)
)

// ErrConflict is returned (or wrapped) by Record.Persist when an optimistic
// concurrency check fails.
var ErrConflict = stderrors.New("state version conflict")

// IsConflict reports whether err signals an optimistic concurrency conflict.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrConflict) {
		return true
	}
	return Code(err) == CodePersistenceConflict
}

// NewError clones base and attaches message, source and metadata.
func NewError(base *errors.Error, message string, source error, metadata map[string]any) *errors.Error {
	if base == nil {
		base = ErrConfiguration
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ConfigError builds a configuration error for machine id.
func ConfigError(machine, message string) *errors.Error {
	meta := map[string]any{}
	if machine = strings.TrimSpace(machine); machine != "" {
		meta["machine"] = machine
	}
	return NewError(ErrConfiguration, message, nil, meta)
}

// Code returns the text code of a go-errors error in the chain, or "".
func Code(err error) string {
	var ge *errors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsConfiguration reports whether err is a machine configuration error.
func IsConfiguration(err error) bool {
	return Code(err) == CodeConfiguration
}

package machine

import (
	"context"
	"strings"
	"time"

	fsm "github.com/goliatone/go-fsm"
)

// AuditPhase identifies lifecycle event emission points.
type AuditPhase string

const (
	AuditPhaseAttempted AuditPhase = "attempted"
	AuditPhaseCommitted AuditPhase = "committed"
	AuditPhaseRejected  AuditPhase = "rejected"
)

// HookFailureMode controls audit hook error behavior.
type HookFailureMode string

const (
	HookFailureModeFailOpen   HookFailureMode = "fail_open"
	HookFailureModeFailClosed HookFailureMode = "fail_closed"
)

// AuditEvent captures auditable transition metadata.
type AuditEvent struct {
	Phase        AuditPhase
	Machine      string
	Version      string
	RecordKind   string
	RecordID     string
	AttemptID    string
	Event        string
	From         string
	To           string
	Outcome      fsm.Outcome
	ErrorCode    string
	ErrorMessage string
	Metadata     map[string]any
	OccurredAt   time.Time
}

// AuditHook receives transition lifecycle events.
type AuditHook interface {
	Notify(ctx context.Context, evt AuditEvent) error
}

// AuditHookFunc adapts a function to AuditHook.
type AuditHookFunc func(ctx context.Context, evt AuditEvent) error

func (f AuditHookFunc) Notify(ctx context.Context, evt AuditEvent) error {
	return f(ctx, evt)
}

func normalizeHookFailureMode(mode HookFailureMode) HookFailureMode {
	switch HookFailureMode(strings.ToLower(strings.TrimSpace(string(mode)))) {
	case HookFailureModeFailClosed:
		return HookFailureModeFailClosed
	default:
		return HookFailureModeFailOpen
	}
}

// fanoutAudit notifies every hook. In fail closed mode the first failure is
// returned; in fail open mode failures are logged and skipped.
func fanoutAudit(
	ctx context.Context,
	hooks []AuditHook,
	evt AuditEvent,
	mode HookFailureMode,
	logger fsm.Logger,
) error {
	if len(hooks) == 0 {
		return nil
	}
	mode = normalizeHookFailureMode(mode)
	logger = fsm.WithLoggerFields(logger, map[string]any{"phase": string(evt.Phase)})

	for idx, hook := range hooks {
		if hook == nil {
			continue
		}
		cp := evt
		cp.Metadata = copyMap(evt.Metadata)
		err := fsm.SafeCall("audit."+string(evt.Phase), func() error {
			return hook.Notify(ctx, cp)
		})
		if err == nil {
			continue
		}
		if mode == HookFailureModeFailClosed {
			return err
		}
		logger.Warn("audit hook failed at index=%d: %v", idx, err)
	}
	return nil
}

func (m *Machine[R]) auditEvent(phase AuditPhase, attempt *Attempt[R], res *fsm.Result) AuditEvent {
	evt := AuditEvent{
		Phase:      phase,
		Machine:    m.name,
		Version:    m.version,
		RecordKind: fsm.KindOf(attempt.Record),
		RecordID:   attempt.Record.RecordID(),
		AttemptID:  attempt.ID,
		Event:      attempt.Event,
		From:       attempt.From,
		To:         attempt.To,
		Outcome:    attempt.Outcome,
		OccurredAt: time.Now().UTC(),
	}
	if attempt.Transition != nil {
		evt.Metadata = copyMap(attempt.Transition.Metadata)
	}
	if res != nil && res.Err != nil {
		evt.ErrorCode = res.Err.TextCode
		evt.ErrorMessage = res.Err.Message
	}
	return evt
}

package machine

import (
	"context"

	fsm "github.com/goliatone/go-fsm"
)

// ErrorReporter receives isolated failures (after hooks, audit hooks).
type ErrorReporter interface {
	ReportError(ctx context.Context, err error, fields map[string]any)
}

// ErrorReporterFunc adapts a function to ErrorReporter.
type ErrorReporterFunc func(ctx context.Context, err error, fields map[string]any)

func (f ErrorReporterFunc) ReportError(ctx context.Context, err error, fields map[string]any) {
	f(ctx, err, fields)
}

// Observer is notified of every fire result.
type Observer interface {
	ObserveResult(ctx context.Context, res *fsm.Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, res *fsm.Result)

func (f ObserverFunc) ObserveResult(ctx context.Context, res *fsm.Result) {
	f(ctx, res)
}

type options struct {
	logger    fsm.Logger
	reporter  ErrorReporter
	observers []Observer
	audit     []AuditHook
	auditMode HookFailureMode
}

// Option configures a Machine.
type Option func(*options)

// WithLogger sets the machine logger.
func WithLogger(l fsm.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithErrorReporter forwards after hook failures to r.
func WithErrorReporter(r ErrorReporter) Option {
	return func(o *options) {
		o.reporter = r
	}
}

// WithObserver registers an observer of fire results.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithAuditHooks appends lifecycle audit hooks.
func WithAuditHooks(hooks ...AuditHook) Option {
	return func(o *options) {
		o.audit = append(o.audit, hooks...)
	}
}

// WithAuditFailureMode sets how audit hook failures are handled. In fail
// closed mode a failing attempted notification aborts the transition.
func WithAuditFailureMode(mode HookFailureMode) Option {
	return func(o *options) {
		o.auditMode = normalizeHookFailureMode(mode)
	}
}

package runner

import (
	"context"
	"time"

	fsm "github.com/goliatone/go-fsm"
)

// Option configures a Runner.
type Option func(*Runner)

// WithMaxRetries sets how many times a failed call is retried.
func WithMaxRetries(max int) Option {
	return func(r *Runner) {
		if max < 0 {
			max = 0
		}
		r.maxRetries = max
	}
}

// WithRetryStrategy lets you define a custom retry/backoff approach.
func WithRetryStrategy(s RetryStrategy) Option {
	return func(r *Runner) {
		if s != nil {
			r.retryStrategy = s
		}
	}
}

// WithTimeout bounds each attempt. Zero means no timeout.
func WithTimeout(t time.Duration) Option {
	return func(r *Runner) {
		r.timeout = t
	}
}

// WithErrorHandler receives every failed attempt.
func WithErrorHandler(h func(name string, attempt int, err error)) Option {
	return func(r *Runner) {
		if h == nil {
			h = func(string, int, error) {}
		}
		r.errorHandler = h
	}
}

// WithLogger sets the runner logger.
func WithLogger(l fsm.Logger) Option {
	return func(r *Runner) {
		r.logger = fsm.NormalizeLogger(l)
	}
}

// Runner executes side-effecting callbacks in isolation: panics are recovered,
// failures can be retried and nothing escapes to sibling callbacks.
type Runner struct {
	logger        fsm.Logger
	errorHandler  func(name string, attempt int, err error)
	retryStrategy RetryStrategy
	maxRetries    int
	timeout       time.Duration
}

// New constructs a Runner, applying defaults for unset options.
func New(opts ...Option) *Runner {
	r := &Runner{
		logger:        fsm.NopLogger{},
		errorHandler:  func(string, int, error) {},
		retryStrategy: NoDelayStrategy{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Default runs a callback once, recovering panics.
var Default = New()

// Run calls fn until it succeeds, the retry budget is exhausted, the context
// is done, or fn panics. It returns the last error.
func (r *Runner) Run(ctx context.Context, name string, fn func(context.Context) error) error {
	if r == nil {
		r = Default
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err = r.attempt(ctx, name, fn)
		if err == nil {
			return nil
		}
		r.errorHandler(name, attempt, err)

		if fsm.IsPanic(err) || attempt == r.maxRetries {
			break
		}
		if !shouldRetry(r.retryStrategy, attempt, err) {
			break
		}
		r.logger.Debug("%s failed, attempt %d of %d: %v", name, attempt+1, r.maxRetries+1, err)
		if waitErr := wait(ctx, r.retryStrategy.SleepDuration(attempt, err)); waitErr != nil {
			return err
		}
	}
	return err
}

func (r *Runner) attempt(ctx context.Context, name string, fn func(context.Context) error) error {
	runCtx, cancel := r.contextWithSettings(ctx)
	defer cancel()
	return fsm.SafeCall(name, func() error {
		return fn(runCtx)
	})
}

func (r *Runner) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(parent, r.timeout)
	}
	return parent, func() {}
}

func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package scheduler

import (
	"fmt"
	"time"

	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/runner"
)

// LogLevel controls how chatty the cron engine is.
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

// Parser selects the cron expression dialect.
type Parser int

const (
	DefaultParser Parser = iota
	StandardParser
	SecondsParser
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation sets the timezone schedules are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.location = loc
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger fsm.Logger) Option {
	return func(s *Scheduler) {
		s.logger = fsm.NormalizeLogger(logger)
	}
}

// WithLogLevel sets the cron engine log level.
func WithLogLevel(level LogLevel) Option {
	return func(s *Scheduler) {
		s.logLevel = level
	}
}

// WithErrorHandler receives job failures.
func WithErrorHandler(handler func(name string, err error)) Option {
	return func(s *Scheduler) {
		if handler != nil {
			s.errorHandler = handler
		}
	}
}

// WithParser sets the cron expression parser.
func WithParser(p Parser) Option {
	return func(s *Scheduler) {
		s.parser = p
	}
}

// WithRunner sets the runner jobs execute through.
func WithRunner(r *runner.Runner) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.runner = r
		}
	}
}

// JobObserver is notified after every job run.
type JobObserver interface {
	ObserveJob(job string, err error)
}

// WithJobObserver registers an observer of job runs.
func WithJobObserver(obs JobObserver) Option {
	return func(s *Scheduler) {
		if obs != nil {
			s.observers = append(s.observers, obs)
		}
	}
}

// cronLogger adapts fsm.Logger to the cron engine logger.
type cronLogger struct {
	logger fsm.Logger
	level  LogLevel
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	if l.level >= LogLevelInfo {
		l.logger.Debug("cron: %s %s", msg, formatKV(keysAndValues))
	}
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	if l.level >= LogLevelError {
		l.logger.Error("cron: %s: %v %s", msg, err, formatKV(keysAndValues))
	}
}

func formatKV(kv []any) string {
	out := ""
	for i := 0; i+1 < len(kv); i += 2 {
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%v=%v", kv[i], kv[i+1])
	}
	return out
}

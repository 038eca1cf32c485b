package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/runner"
	rcron "github.com/robfig/cron/v3"
)

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler runs jobs on cron expressions or once at a point in time.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	location     *time.Location
	parser       Parser
	logLevel     LogLevel
	logger       fsm.Logger
	runner       *runner.Runner
	errorHandler func(name string, err error)
	observers    []JobObserver

	ctx    context.Context
	cancel context.CancelFunc

	nextHandleID int64
	handles      map[int64]*handle
}

// New creates a scheduler. It does not run cron jobs until Start.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		location: time.Local,
		parser:   DefaultParser,
		logLevel: LogLevelError,
		logger:   fsm.NormalizeLogger(nil),
		runner:   runner.Default,
		handles:  make(map[int64]*handle),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.errorHandler == nil {
		s.errorHandler = func(name string, err error) {
			s.logger.Error("job %s failed: %v", name, err)
		}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = rcron.New(s.build()...)
	return s
}

// ScheduleCron runs job every time expr fires.
func (s *Scheduler) ScheduleCron(expr, name string, job Job) (Handle, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("cron expression cannot be empty")
	}
	if job == nil {
		return nil, fmt.Errorf("job %s cannot be nil", name)
	}

	h := s.newHandle(name)
	entryID, err := s.cron.AddFunc(expr, func() {
		if !h.begin() {
			return
		}
		if err := s.run(h, job); err != nil {
			h.setStatus(StatusFailed, err)
			return
		}
		h.setStatus(StatusIdle, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add job %s: %w", name, err)
	}
	h.entryID = int(entryID)
	s.storeHandle(h)
	return h, nil
}

// ScheduleAfter runs job once after delay.
func (s *Scheduler) ScheduleAfter(delay time.Duration, name string, job Job) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleAt(time.Now().Add(delay), name, job)
}

// ScheduleAt runs job once at the given time. One-off jobs run whether or
// not the cron engine was started.
func (s *Scheduler) ScheduleAt(at time.Time, name string, job Job) (Handle, error) {
	if job == nil {
		return nil, fmt.Errorf("job %s cannot be nil", name)
	}

	h := s.newHandle(name)
	s.storeHandle(h)

	go func() {
		wait := time.Until(at)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-h.Done():
			return
		}

		if !h.begin() {
			return
		}
		defer s.removeStoredHandle(h.id)
		if err := s.run(h, job); err != nil {
			h.setTerminal(StatusFailed, err)
			return
		}
		h.setTerminal(StatusCompleted, nil)
	}()

	return h, nil
}

// Handles returns the active handles.
func (s *Scheduler) Handles() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

// Start begins executing cron jobs. Jobs receive a context derived from ctx
// that is canceled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started jobs=%d", len(s.Handles()))
	return nil
}

// Stop halts the cron engine, waits for running cron jobs and marks every
// active handle as stopped.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()

	s.mu.Lock()
	handles := make([]*handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.handles = make(map[int64]*handle)
	s.cancel()
	s.mu.Unlock()

	for _, h := range handles {
		if h.entryID > 0 {
			s.cron.Remove(rcron.EntryID(h.entryID))
		}
		h.setTerminal(StatusStopped, nil)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(h *handle, job Job) error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	logger := fsm.WithLoggerFields(s.logger.WithContext(ctx), map[string]any{
		"job":    h.name,
		"handle": h.id,
	})
	started := time.Now()
	err := s.runner.Run(ctx, "job."+h.name, func(ctx context.Context) error {
		return job(ctx)
	})
	for _, obs := range s.observers {
		obs.ObserveJob(h.name, err)
	}
	if err != nil {
		s.errorHandler(h.name, err)
		return err
	}
	logger.Debug("job finished in %s", time.Since(started))
	return nil
}

func (s *Scheduler) removeHandle(id int64) {
	h := s.removeStoredHandle(id)
	if h != nil && h.entryID > 0 {
		s.cron.Remove(rcron.EntryID(h.entryID))
	}
}

func (s *Scheduler) removeStoredHandle(id int64) *handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handles[id]
	delete(s.handles, id)
	return h
}

func (s *Scheduler) storeHandle(h *handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[h.id] = h
}

func (s *Scheduler) newHandle(name string) *handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandleID++
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("job_%d", s.nextHandleID)
	}
	return &handle{
		scheduler: s,
		id:        s.nextHandleID,
		name:      name,
		status:    StatusScheduled,
		done:      make(chan struct{}),
	}
}

func (s *Scheduler) build() []rcron.Option {
	var opts []rcron.Option
	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}

	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}

	if s.logLevel > LogLevelSilent {
		opts = append(opts, rcron.WithLogger(&cronLogger{logger: s.logger, level: s.logLevel}))
	}
	return opts
}

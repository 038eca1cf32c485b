package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/goliatone/go-errors"
	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/runner"
)

// Listener receives broadcast events.
type Listener interface {
	Handle(ctx context.Context, event string, payload ...any) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, event string, payload ...any) error

func (f ListenerFunc) Handle(ctx context.Context, event string, payload ...any) error {
	return f(ctx, event, payload...)
}

// Scope restricts a subscription. The zero Scope is global; Kind alone
// matches a class of records; Kind and ID match a single record.
type Scope struct {
	Kind string
	ID   string
}

// Global reports whether the scope matches every source.
func (s Scope) Global() bool { return s.Kind == "" }

func (s Scope) String() string {
	switch {
	case s.Global():
		return "global"
	case s.ID == "":
		return s.Kind
	default:
		return s.Kind + ":" + s.ID
	}
}

func (s Scope) matches(src Source) bool {
	if s.Global() {
		return true
	}
	if s.Kind != src.Kind {
		return false
	}
	return s.ID == "" || s.ID == src.ID
}

// Source identifies the record a broadcast originates from.
type Source struct {
	Kind string
	ID   string
}

// SourceOf derives the broadcast source of a record.
func SourceOf(rec fsm.Record) Source {
	if fsm.IsNilRecord(rec) {
		return Source{}
	}
	return Source{Kind: fsm.KindOf(rec), ID: rec.RecordID()}
}

// Subscription is a registered listener. It stays active until removed.
type Subscription interface {
	Unsubscribe()
	Event() string
	Scope() Scope
}

type subscription struct {
	bus      *Bus
	id       uint64
	event    string
	scope    Scope
	listener Listener
}

func (s *subscription) Unsubscribe() { s.bus.remove(s.id) }
func (s *subscription) Event() string { return s.event }
func (s *subscription) Scope() Scope  { return s.scope }

// DeliveryObserver is notified of every listener invocation.
type DeliveryObserver interface {
	ObserveDelivery(event string, err error)
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(l fsm.Logger) Option {
	return func(b *Bus) {
		b.logger = fsm.NormalizeLogger(l)
	}
}

// WithRunner sets the runner used to invoke listeners, e.g. to retry
// fallible mail deliveries.
func WithRunner(r *runner.Runner) Option {
	return func(b *Bus) {
		if r != nil {
			b.runner = r
		}
	}
}

// WithDeliveryObserver registers an observer of listener outcomes.
func WithDeliveryObserver(obs DeliveryObserver) Option {
	return func(b *Bus) {
		if obs != nil {
			b.observers = append(b.observers, obs)
		}
	}
}

// Bus is a synchronous in-process publish/subscribe hub.
//
// Listeners run in subscription order across all matching scopes. A listener
// that fails or panics is recorded in the Report and the remaining listeners
// still run. Registering while a broadcast is in flight is not part of the
// ordering contract.
type Bus struct {
	mu        sync.RWMutex
	seq       uint64
	subs      []*subscription
	logger    fsm.Logger
	runner    *runner.Runner
	observers []DeliveryObserver
}

// New creates an empty bus. It logs nothing unless WithLogger is given.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger: fsm.NopLogger{},
		runner: runner.Default,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscribe registers a global listener for event. Event may be a pattern
// such as "offer.*".
func (b *Bus) Subscribe(event string, l Listener) Subscription {
	return b.add(event, Scope{}, l)
}

// SubscribeFunc is Subscribe for plain functions.
func (b *Bus) SubscribeFunc(event string, fn ListenerFunc) Subscription {
	return b.add(event, Scope{}, fn)
}

// SubscribeKind registers a listener for broadcasts from records of kind.
func (b *Bus) SubscribeKind(kind, event string, l Listener) Subscription {
	return b.add(event, Scope{Kind: normalizeName(kind)}, l)
}

// SubscribeInstance registers a listener for broadcasts from one record.
func (b *Bus) SubscribeInstance(kind, id, event string, l Listener) Subscription {
	return b.add(event, Scope{Kind: normalizeName(kind), ID: strings.TrimSpace(id)}, l)
}

// SubscribeRecord registers a listener scoped to rec.
func (b *Bus) SubscribeRecord(rec fsm.Record, event string, l Listener) Subscription {
	src := SourceOf(rec)
	return b.SubscribeInstance(src.Kind, src.ID, event, l)
}

func (b *Bus) add(event string, scope Scope, l Listener) Subscription {
	event = normalizeName(event)
	if event == "" || l == nil {
		panic(fmt.Sprintf("eventbus: subscribe requires an event and a listener (event=%q)", event))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	s := &subscription{bus: b, id: b.seq, event: event, scope: scope, listener: l}
	b.subs = append(b.subs, s)
	return s
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Unsubscribe removes every subscription of listener to event in any scope
// and returns how many were removed. Function listeners compare by code
// pointer, so closures built by the same constructor are treated as equal;
// use Subscription.Unsubscribe for those.
func (b *Bus) Unsubscribe(event string, l Listener) int {
	event = normalizeName(event)

	b.mu.Lock()
	defer b.mu.Unlock()
	kept := make([]*subscription, 0, len(b.subs))
	removed := 0
	for _, s := range b.subs {
		if s.event == event && sameListener(s.listener, l) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	b.subs = kept
	return removed
}

// Reset removes every subscription.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Listeners returns how many subscriptions would receive event from src.
func (b *Bus) Listeners(src Source, event string) int {
	return len(b.matching(src, normalizeName(event)))
}

// Broadcast delivers event to global subscribers.
func (b *Bus) Broadcast(ctx context.Context, event string, payload ...any) *Report {
	return b.BroadcastFrom(ctx, Source{}, event, payload...)
}

// BroadcastRecord delivers event from rec. The record is the first payload
// element, followed by extra.
func (b *Bus) BroadcastRecord(ctx context.Context, rec fsm.Record, event string, extra ...any) *Report {
	payload := append([]any{rec}, extra...)
	return b.BroadcastFrom(ctx, SourceOf(rec), event, payload...)
}

// BroadcastFrom delivers event to global, class and instance subscribers
// matching src, in subscription order.
func (b *Bus) BroadcastFrom(ctx context.Context, src Source, event string, payload ...any) *Report {
	if ctx == nil {
		ctx = context.Background()
	}
	src.Kind = normalizeName(src.Kind)
	event = normalizeName(event)
	report := &Report{Event: event, Source: src}

	subs := b.matching(src, event)
	logger := fsm.WithLoggerFields(b.logger.WithContext(ctx), map[string]any{
		"event":  event,
		"source": Scope(src).String(),
	})
	logger.Trace("broadcast listeners=%d", len(subs))

	for _, s := range subs {
		err := b.runner.Run(ctx, "listener."+event, func(ctx context.Context) error {
			return s.listener.Handle(ctx, event, payload...)
		})
		for _, obs := range b.observers {
			obs.ObserveDelivery(event, err)
		}
		if err != nil {
			report.Failures = append(report.Failures, ListenerFailure{
				Subscription: s,
				Err:          err,
			})
			logger.Warn("listener %d (%s) failed: %v", s.id, s.scope, err)
			continue
		}
		report.Delivered++
	}
	return report
}

func (b *Bus) matching(src Source, event string) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*subscription
	for _, s := range b.subs {
		if !s.scope.matches(src) {
			continue
		}
		if s.event == event || (IsPattern(s.event) && Match(s.event, event)) {
			out = append(out, s)
		}
	}
	return out
}

// ListenerFailure is an isolated listener error.
type ListenerFailure struct {
	Subscription Subscription
	Err          error
}

// Report summarises a broadcast.
type Report struct {
	Event     string
	Source    Source
	Delivered int
	Failures  []ListenerFailure
}

// Failed reports whether any listener failed.
func (r *Report) Failed() bool {
	return r != nil && len(r.Failures) > 0
}

// Err aggregates listener failures into a single warning level error.
func (r *Report) Err() error {
	if !r.Failed() {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f.Err)
	}
	return fsm.NewError(
		fsm.ErrListenerFailed,
		fmt.Sprintf("%d listener(s) failed for %s", len(r.Failures), r.Event),
		errors.Join(errs...),
		map[string]any{"event": r.Event, "failures": len(r.Failures)},
	)
}

func sameListener(a, b Listener) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	if va.Kind() == reflect.Func {
		return va.Pointer() == vb.Pointer()
	}
	if va.Type().Comparable() {
		return a == b
	}
	return false
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

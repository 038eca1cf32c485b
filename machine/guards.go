package machine

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-errors"
	fsm "github.com/goliatone/go-fsm"
)

// Guard is a named boolean predicate over a record. Guards must not mutate
// the record or perform side effects.
type Guard[R fsm.Record] struct {
	Name string
	// Reason is the field key reported on failure. Defaults to Name.
	Reason  string
	Message string
	Allow   func(ctx context.Context, rec R, args Args) bool
}

// NewGuard builds a guard whose reason is name.
func NewGuard[R fsm.Record](name string, allow func(ctx context.Context, rec R, args Args) bool) Guard[R] {
	return Guard[R]{Name: name, Allow: allow}
}

// WithReason returns a copy of the guard with reason and message set.
func (g Guard[R]) WithReason(reason, message string) Guard[R] {
	g.Reason = reason
	g.Message = message
	return g
}

func (g Guard[R]) reason() string {
	if r := strings.TrimSpace(g.Reason); r != "" {
		return r
	}
	return strings.TrimSpace(g.Name)
}

func (g Guard[R]) message() string {
	if m := strings.TrimSpace(g.Message); m != "" {
		return m
	}
	return fmt.Sprintf("guard %s rejected the transition", g.Name)
}

// GuardResult is the verdict of EvaluateGuards.
type GuardResult struct {
	Passed      bool
	FailedGuard string
	Reason      string
	Message     string
	// Err is set when a guard panicked. The guard counts as failed.
	Err error
}

// EvaluateGuards runs guards in declaration order and stops at the first
// failure. An empty list passes.
func EvaluateGuards[R fsm.Record](ctx context.Context, guards []Guard[R], rec R, args Args) GuardResult {
	for _, g := range guards {
		var allowed bool
		err := fsm.SafeCall("guard."+g.Name, func() error {
			allowed = g.Allow(ctx, rec, args)
			return nil
		})
		if err == nil && allowed {
			continue
		}
		return GuardResult{
			FailedGuard: g.Name,
			Reason:      g.reason(),
			Message:     g.message(),
			Err:         err,
		}
	}
	return GuardResult{Passed: true}
}

// AsError converts a failed verdict into a validation error keyed by reason.
func (r GuardResult) AsError(metadata map[string]any) *errors.Error {
	if r.Passed {
		return nil
	}
	err := fsm.NewError(fsm.ErrGuardFailed, r.Message, r.Err, metadata)
	err.ValidationErrors = errors.ValidationErrors{{
		Field:   r.Reason,
		Message: r.Message,
	}}
	return err
}

// GuardRegistry stores named guards for definitions loaded from config.
type GuardRegistry[R fsm.Record] struct {
	guards     map[string]Guard[R]
	namespacer func(string, string) string
}

// NewGuardRegistry creates an empty registry.
func NewGuardRegistry[R fsm.Record]() *GuardRegistry[R] {
	return &GuardRegistry[R]{
		guards:     make(map[string]Guard[R]),
		namespacer: defaultNamespace,
	}
}

// SetNamespacer customizes how guard IDs are namespaced.
func (g *GuardRegistry[R]) SetNamespacer(fn func(string, string) string) {
	if fn != nil {
		g.namespacer = fn
	}
}

// Register stores a guard under its name.
func (g *GuardRegistry[R]) Register(guard Guard[R]) error {
	return g.RegisterNamespaced("", guard)
}

// RegisterNamespaced stores a guard using namespace+name.
func (g *GuardRegistry[R]) RegisterNamespaced(namespace string, guard Guard[R]) error {
	name := strings.TrimSpace(guard.Name)
	if name == "" || guard.Allow == nil {
		return fsm.ConfigError("", "guard requires a name and a predicate")
	}
	if g.guards == nil {
		g.guards = make(map[string]Guard[R])
	}
	key := name
	if g.namespacer != nil {
		key = g.namespacer(namespace, name)
	}
	if _, exists := g.guards[key]; exists {
		return fsm.ConfigError("", fmt.Sprintf("guard %s already registered", key))
	}
	g.guards[key] = guard
	return nil
}

// Lookup retrieves a guard by name.
func (g *GuardRegistry[R]) Lookup(name string) (Guard[R], bool) {
	if g == nil {
		return Guard[R]{}, false
	}
	guard, ok := g.guards[name]
	return guard, ok
}

func defaultNamespace(namespace, id string) string {
	if namespace == "" {
		return id
	}
	return namespace + "::" + id
}

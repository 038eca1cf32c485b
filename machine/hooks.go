package machine

import (
	"context"
	"fmt"
	"strings"

	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/runner"
)

// Hook is a named side effect run around a transition.
type Hook[R fsm.Record] struct {
	Name string
	Run  func(ctx context.Context, attempt *Attempt[R]) error
	// Retries is the number of extra attempts for fallible external calls.
	Retries int
	// Runner overrides the retry policy. Retries is ignored when set.
	Runner *runner.Runner
}

// NewHook builds a hook without retries.
func NewHook[R fsm.Record](name string, run func(ctx context.Context, attempt *Attempt[R]) error) Hook[R] {
	return Hook[R]{Name: name, Run: run}
}

// WithRetries returns a copy of the hook retried up to n extra times.
func (h Hook[R]) WithRetries(n int) Hook[R] {
	h.Retries = n
	return h
}

func (h Hook[R]) runner() *runner.Runner {
	if h.Runner != nil {
		return h.Runner
	}
	if h.Retries > 0 {
		return runner.New(runner.WithMaxRetries(h.Retries))
	}
	return runner.Default
}

func (h Hook[R]) call(ctx context.Context, attempt *Attempt[R]) error {
	return h.runner().Run(ctx, "hook."+h.Name, func(ctx context.Context) error {
		return h.Run(ctx, attempt)
	})
}

// HookResult is the outcome of RunBefore.
type HookResult struct {
	Aborted bool
	Hook    string
	Err     error
}

// Reason returns the abort message.
func (r HookResult) Reason() string {
	if !r.Aborted || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// HookFailure is an isolated after hook failure.
type HookFailure struct {
	Hook  string
	Index int
	Err   error
}

func (f HookFailure) Error() string {
	return fmt.Sprintf("after hook %s[%d]: %v", f.Hook, f.Index, f.Err)
}

func (f HookFailure) Unwrap() error { return f.Err }

// RunBefore runs hooks in order. The first error or panic aborts and the
// remaining hooks are skipped.
func RunBefore[R fsm.Record](ctx context.Context, hooks []Hook[R], attempt *Attempt[R]) HookResult {
	for _, h := range hooks {
		if err := h.call(ctx, attempt); err != nil {
			return HookResult{Aborted: true, Hook: h.Name, Err: err}
		}
	}
	return HookResult{}
}

// RunAfter runs every hook in order. Failures are collected, never propagated.
func RunAfter[R fsm.Record](ctx context.Context, hooks []Hook[R], attempt *Attempt[R]) []HookFailure {
	var failures []HookFailure
	for idx, h := range hooks {
		if err := h.call(ctx, attempt); err != nil {
			failures = append(failures, HookFailure{Hook: h.Name, Index: idx, Err: err})
		}
	}
	return failures
}

// HookRegistry stores named hooks for definitions loaded from config.
type HookRegistry[R fsm.Record] struct {
	hooks      map[string]Hook[R]
	namespacer func(string, string) string
}

// NewHookRegistry creates an empty registry.
func NewHookRegistry[R fsm.Record]() *HookRegistry[R] {
	return &HookRegistry[R]{
		hooks:      make(map[string]Hook[R]),
		namespacer: defaultNamespace,
	}
}

// SetNamespacer customizes how hook IDs are namespaced.
func (h *HookRegistry[R]) SetNamespacer(fn func(string, string) string) {
	if fn != nil {
		h.namespacer = fn
	}
}

// Register stores a hook under its name.
func (h *HookRegistry[R]) Register(hook Hook[R]) error {
	return h.RegisterNamespaced("", hook)
}

// RegisterNamespaced stores a hook using namespace+name.
func (h *HookRegistry[R]) RegisterNamespaced(namespace string, hook Hook[R]) error {
	name := strings.TrimSpace(hook.Name)
	if name == "" || hook.Run == nil {
		return fsm.ConfigError("", "hook requires a name and a function")
	}
	if h.hooks == nil {
		h.hooks = make(map[string]Hook[R])
	}
	key := name
	if h.namespacer != nil {
		key = h.namespacer(namespace, name)
	}
	if _, exists := h.hooks[key]; exists {
		return fsm.ConfigError("", fmt.Sprintf("hook %s already registered", key))
	}
	h.hooks[key] = hook
	return nil
}

// Lookup retrieves a hook by name.
func (h *HookRegistry[R]) Lookup(name string) (Hook[R], bool) {
	if h == nil {
		return Hook[R]{}, false
	}
	hook, ok := h.hooks[name]
	return hook, ok
}

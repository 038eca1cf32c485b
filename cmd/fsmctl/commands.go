package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/machine"
	"github.com/goliatone/go-fsm/store"
)

type entityMachine = machine.Machine[*store.Entity]

// ValidateCmd builds every machine (or one) and reports diagnostics.
type ValidateCmd struct {
	Machine string `short:"m" help:"Only validate this machine."`
}

func (c *ValidateCmd) Run(a *app) error {
	configs := a.configs.Machines
	if c.Machine != "" {
		cfg, err := a.lookup(c.Machine)
		if err != nil {
			return err
		}
		configs = []machine.MachineConfig{cfg}
	}

	var failed []error
	for _, cfg := range configs {
		m, err := buildMachine(cfg, nil, a.logger)
		if err != nil {
			fmt.Fprintf(a.out, "FAIL %s: %v\n", cfg.Name, err)
			failed = append(failed, err)
			continue
		}
		t := m.Table()
		fmt.Fprintf(a.out, "ok   %s (%d states, %d events, initial %s)\n",
			m.Name(), len(t.States()), len(t.Events()), t.Initial())
		for _, w := range t.Warnings() {
			fmt.Fprintf(a.out, "     warning %s\n", w)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d machine(s) invalid", len(failed), len(configs))
	}
	return nil
}

// DiagramCmd prints a Mermaid state diagram.
type DiagramCmd struct {
	Machine   string `short:"m" required:"" help:"Machine to render."`
	Direction string `default:"TD" enum:"TD,LR" help:"Diagram direction."`
	NoGuards  bool   `help:"Omit guard names from edge labels."`
	Fenced    bool   `help:"Wrap the output in a markdown code fence."`
}

func (c *DiagramCmd) Run(a *app) error {
	cfg, err := a.lookup(c.Machine)
	if err != nil {
		return err
	}
	m, err := buildMachine(cfg, nil, a.logger)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, machine.Mermaid(m.Table(), machine.DiagramOptions{
		Direction:  c.Direction,
		ShowGuards: !c.NoGuards,
		Fenced:     c.Fenced,
	}))
	return nil
}

// EventsCmd lists events structurally available from a state. Guards are
// not evaluated.
type EventsCmd struct {
	Machine string `short:"m" required:"" help:"Machine to inspect."`
	State   string `short:"s" help:"State to inspect. Defaults to the initial state."`
}

func (c *EventsCmd) Run(a *app) error {
	cfg, err := a.lookup(c.Machine)
	if err != nil {
		return err
	}
	m, err := buildMachine(cfg, nil, a.logger)
	if err != nil {
		return err
	}
	state := strings.TrimSpace(c.State)
	if state == "" {
		state = m.Initial()
	}
	if _, ok := m.Table().State(state); !ok {
		return fsm.ConfigError(m.Name(), fmt.Sprintf("unknown state %q", state))
	}
	for _, ev := range m.Table().EventsFrom(state) {
		fmt.Fprintln(a.out, ev)
	}
	return nil
}

// FireCmd fires an event against a SQLite backed record. Named guards fail
// unless listed with --pass; hooks only log.
type FireCmd struct {
	Machine string   `short:"m" required:"" help:"Machine to drive."`
	DB      string   `default:"fsm.db" help:"SQLite database path or DSN."`
	Table   string   `help:"State table name."`
	Kind    string   `help:"Record kind. Defaults to the machine name."`
	ID      string   `required:"" help:"Record id."`
	Event   string   `short:"e" required:"" help:"Event to fire."`
	Create  bool     `help:"Create the record in the initial state when missing."`
	Pass    []string `sep:"," help:"Guards that should pass."`
	Args    []string `arg:"" optional:"" help:"Arguments passed to guards and hooks."`
}

func (c *FireCmd) Run(a *app) error {
	cfg, err := a.lookup(c.Machine)
	if err != nil {
		return err
	}
	m, err := buildMachine(cfg, c.Pass, a.logger)
	if err != nil {
		return err
	}

	db, err := store.OpenSQLite(c.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	st := store.NewSQLiteStateStore(db, c.Table)

	kind := c.Kind
	if kind == "" {
		kind = m.Name()
	}

	ctx := context.Background()
	rec, err := store.LoadEntity(ctx, st, kind, c.ID)
	switch {
	case err == nil:
	case c.Create && fsm.Code(err) == fsm.Code(store.ErrNotFound):
		rec = store.NewEntity(st, kind, c.ID, m.Initial())
	default:
		return err
	}
	rec.SetMachine(m.Name())

	args := make([]any, 0, len(c.Args))
	for _, arg := range c.Args {
		args = append(args, arg)
	}

	res := m.Fire(ctx, rec, c.Event, args...)
	fmt.Fprintf(a.out, "%s %s/%s %s: %s -> %s (v%d)\n",
		res.Outcome, kind, rec.RecordID(), res.Event, res.From, rec.State(), rec.Version())
	for _, w := range res.Warnings {
		fmt.Fprintf(a.out, "  warning %v\n", w)
	}
	return res.AsError()
}

func (a *app) lookup(name string) (machine.MachineConfig, error) {
	cfg, ok := a.configs.Machine(name)
	if !ok {
		return cfg, fsm.ConfigError(name, "machine not found in config")
	}
	return cfg, nil
}

// buildMachine compiles cfg with stand-in guards and hooks for every name
// the config references. Guards pass only when listed in pass.
func buildMachine(cfg machine.MachineConfig, pass []string, logger fsm.Logger) (*entityMachine, error) {
	allowed := make(map[string]bool, len(pass))
	for _, name := range pass {
		allowed[strings.TrimSpace(name)] = true
	}

	guardNames, hookNames := referencedNames(cfg)
	guards := machine.NewGuardRegistry[*store.Entity]()
	for _, name := range guardNames {
		name := name
		guard := machine.NewGuard(name, func(context.Context, *store.Entity, machine.Args) bool {
			return allowed[name]
		})
		if err := guards.Register(guard); err != nil {
			return nil, err
		}
	}

	hooks := machine.NewHookRegistry[*store.Entity]()
	for _, name := range hookNames {
		name := name
		hook := machine.NewHook(name, func(ctx context.Context, at *machine.Attempt[*store.Entity]) error {
			logger.Info("hook %s %s: %s -> %s", name, at.Event, at.From, at.To)
			return nil
		})
		if err := hooks.Register(hook); err != nil {
			return nil, err
		}
	}

	def, err := machine.FromConfig(cfg, guards, hooks)
	if err != nil {
		return nil, err
	}
	return machine.New(def, machine.WithLogger(logger))
}

func referencedNames(cfg machine.MachineConfig) (guards, hooks []string) {
	gs, hs := map[string]struct{}{}, map[string]struct{}{}
	for _, ev := range cfg.Events {
		for _, tr := range ev.Transitions {
			for _, g := range tr.Guards {
				gs[strings.TrimSpace(g)] = struct{}{}
			}
			for _, h := range append(append([]string(nil), tr.Before...), tr.After...) {
				hs[strings.TrimSpace(h)] = struct{}{}
			}
		}
	}
	return sortedKeys(gs), sortedKeys(hs)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		if k != "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

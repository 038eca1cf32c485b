package scheduler

import (
	"context"
	"fmt"

	"github.com/goliatone/go-errors"
	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/machine"
	"github.com/goliatone/go-fsm/store"
)

// Resolver loads the records a FireJob acts on.
type Resolver[R fsm.Record] func(ctx context.Context) ([]R, error)

// FromStore resolves the records of kind currently in state. wrap turns a
// stored row into the machine's record type.
func FromStore[R fsm.Record](st store.StateStore, kind, state string, wrap func(*store.StateRecord) R) Resolver[R] {
	return func(ctx context.Context) ([]R, error) {
		rows, err := st.List(ctx, kind, state)
		if err != nil {
			return nil, err
		}
		out := make([]R, 0, len(rows))
		for _, row := range rows {
			out = append(out, wrap(row))
		}
		return out, nil
	}
}

// FireJob fires one event on every resolved record, e.g. expiring offers
// whose validity has lapsed.
type FireJob[R fsm.Record] struct {
	Machine *machine.Machine[R]
	Event   string
	Resolve Resolver[R]
	Args    []any
	// OnResult, when set, sees every result.
	OnResult func(ctx context.Context, rec R, res *fsm.Result)
	Logger   fsm.Logger
}

// Batch summarises one FireJob run.
type Batch struct {
	Event     string
	Resolved  int
	Committed int
	// Skipped counts records the event did not apply to or whose guards
	// refused it.
	Skipped int
	Failed  []*fsm.Result
}

// Err aggregates the failed results.
func (b *Batch) Err() error {
	if b == nil || len(b.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(b.Failed))
	for _, res := range b.Failed {
		errs = append(errs, res.AsError())
	}
	return fmt.Errorf("%s: %d of %d records failed: %w", b.Event, len(b.Failed), b.Resolved, errors.Join(errs...))
}

// Run resolves the records and fires the event on each of them.
func (j FireJob[R]) Run(ctx context.Context) (*Batch, error) {
	if j.Machine == nil || j.Resolve == nil {
		return nil, fsm.ConfigError("", "fire job requires a machine and a resolver")
	}
	logger := fsm.WithLoggerFields(fsm.NormalizeLogger(j.Logger).WithContext(ctx), map[string]any{
		"machine": j.Machine.Name(),
		"event":   j.Event,
	})

	records, err := j.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve records for %s: %w", j.Event, err)
	}

	batch := &Batch{Event: j.Event, Resolved: len(records)}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		res := j.Machine.Fire(ctx, rec, j.Event, j.Args...)
		if j.OnResult != nil {
			j.OnResult(ctx, rec, res)
		}
		switch {
		case res.Success:
			batch.Committed++
		case res.Outcome == fsm.OutcomeInvalidEvent, res.Outcome == fsm.OutcomeGuardFailed:
			batch.Skipped++
		default:
			batch.Failed = append(batch.Failed, res)
		}
	}

	logger.Info("fire job resolved=%d committed=%d skipped=%d failed=%d",
		batch.Resolved, batch.Committed, batch.Skipped, len(batch.Failed))
	return batch, batch.Err()
}

// Job adapts the FireJob for the scheduler.
func (j FireJob[R]) Job() Job {
	return func(ctx context.Context) error {
		_, err := j.Run(ctx)
		return err
	}
}

package brokerage

import (
	"context"
	"fmt"

	"github.com/goliatone/go-errors"
	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/eventbus"
	"github.com/goliatone/go-fsm/machine"
)

// Domain events broadcast on the bus.
const (
	EventSendGreetingMail  = "send_greeting_mail"
	EventSendThankYouEmail = "send_thank_you_email"
	EventRevenueChanged    = "revenue_changed"
)

// Record kinds, also used as machine names.
const (
	KindMandate     = "mandate"
	KindInquiry     = "inquiry"
	KindOffer       = "offer"
	KindOpportunity = "opportunity"
)

// ReasonMandateState is the guard reason reported when the mandate behind
// a record has been revoked.
const ReasonMandateState = "mandate_state"

// broadcastHook is an after hook that publishes event with the record as
// the first payload element. Listener failures surface as hook failures.
func broadcastHook[R fsm.Record](bus *eventbus.Bus, event string, extra func(R) []any) machine.Hook[R] {
	return machine.NewHook("broadcast_"+event, func(ctx context.Context, a *machine.Attempt[R]) error {
		var payload []any
		if extra != nil {
			payload = extra(a.Record)
		}
		return bus.BroadcastRecord(ctx, a.Record, event, payload...).Err()
	})
}

// mandateNotRevoked fails when the record's mandate is missing or revoked.
func mandateNotRevoked[R fsm.Record](mandateOf func(R) *Mandate) machine.Guard[R] {
	return machine.NewGuard("mandate_not_revoked", func(_ context.Context, rec R, _ machine.Args) bool {
		m := mandateOf(rec)
		return m != nil && m.State() != MandateRevoked
	}).WithReason(ReasonMandateState, "mandate is missing or has been revoked")
}

// cascade fires event on every related record through its own machine.
// Records the event does not apply to are skipped; other failures are
// joined into the returned error.
func cascade[R fsm.Record](ctx context.Context, m *machine.Machine[R], event string, related []R) error {
	var errs []error
	for _, rec := range related {
		res := m.Fire(ctx, rec, event)
		switch res.Outcome {
		case fsm.OutcomeSuccess, fsm.OutcomeInvalidEvent:
			continue
		default:
			errs = append(errs, fmt.Errorf("%s %s: %w", m.Name(), rec.RecordID(), res.AsError()))
		}
	}
	return errors.Join(errs...)
}

package brokerage

import (
	"context"
	"strings"

	"github.com/goliatone/go-fsm/eventbus"
	"github.com/goliatone/go-fsm/machine"
	"github.com/goliatone/go-fsm/store"
)

// Opportunity states.
const (
	OpportunityCreated    = "created"
	OpportunityAccepted   = "accepted"
	OpportunityOfferPhase = "offer_phase"
	OpportunityCompleted  = "completed"
	OpportunityLost       = "lost"
)

// Opportunity is a sales lead worked by an admin.
type Opportunity struct {
	*store.Entity
	Thread

	Mandate *Mandate
	AdminID string
	Offer   *Offer
	// Revenue is the expected yearly revenue in cents.
	Revenue int64
}

// NewOpportunity returns an opportunity in its initial state.
func NewOpportunity(st store.StateStore, id string, mandate *Mandate) *Opportunity {
	o := &Opportunity{
		Entity:  store.NewEntity(st, KindOpportunity, id, OpportunityCreated),
		Mandate: mandate,
	}
	o.init()
	return o
}

func (o *Opportunity) init() {
	o.SetMachine(KindOpportunity)
	o.SetSnapshot(func() map[string]any {
		meta := map[string]any{
			"admin_id": o.AdminID,
			"revenue":  o.Revenue,
		}
		if o.Mandate != nil {
			meta["mandate_id"] = o.Mandate.RecordID()
		}
		if o.Offer != nil {
			meta["offer_id"] = o.Offer.RecordID()
		}
		return meta
	})
}

// AssignAdmin sets the responsible admin.
func (o *Opportunity) AssignAdmin(id string) {
	o.AdminID = strings.TrimSpace(id)
}

// NewOpportunityMachine builds the opportunity lifecycle. Completing an
// opportunity broadcasts revenue_changed with the revenue of the accepted
// option; losing it cancels a pending offer.
func NewOpportunityMachine(
	cfg Settings,
	bus *eventbus.Bus,
	offers *machine.Machine[*Offer],
	opts ...machine.Option,
) (*machine.Machine[*Opportunity], error) {
	mandateOf := func(o *Opportunity) *Mandate { return o.Mandate }

	hasAdmin := machine.NewGuard("admin_assigned", func(_ context.Context, o *Opportunity, _ machine.Args) bool {
		return !cfg.Opportunities.RequireAdmin || o.AdminID != ""
	}).WithReason("admin", "an admin must be assigned")

	hasOffer := machine.NewGuard("has_offer", func(_ context.Context, o *Opportunity, _ machine.Args) bool {
		return o.Offer != nil
	}).WithReason("offer", "an offer is required")

	offerAccepted := machine.NewGuard("offer_accepted", func(_ context.Context, o *Opportunity, _ machine.Args) bool {
		return o.Offer != nil && o.Offer.State() == OfferAccepted
	}).WithReason("offer_state", "the offer has not been accepted")

	bookRevenue := machine.NewHook("book_revenue", func(_ context.Context, a *machine.Attempt[*Opportunity]) error {
		if opt, ok := a.Record.Offer.Selected(); ok {
			prev := a.Record.Revenue
			a.Record.Revenue = opt.Premium
			a.OnRollback(func() { a.Record.Revenue = prev })
		}
		return nil
	})

	revenue := func(o *Opportunity) []any { return []any{o.Revenue} }

	b := machine.NewBuilder[*Opportunity](KindOpportunity).
		Initial(OpportunityCreated).
		State(OpportunityAccepted, OpportunityOfferPhase).
		Terminal(OpportunityCompleted, OpportunityLost).
		Event("activate").From(OpportunityCreated).To(OpportunityAccepted).
		Guard(mandateNotRevoked(mandateOf), hasAdmin).
		Event("send_offer").From(OpportunityAccepted).To(OpportunityOfferPhase).
		Guard(hasOffer).
		Event("complete").From(OpportunityOfferPhase).To(OpportunityCompleted).
		Guard(offerAccepted).
		Before(bookRevenue).
		After(broadcastHook(bus, EventRevenueChanged, revenue)).
		Done()

	lose := b.Event("lose").FromAny().To(OpportunityLost)
	if offers != nil {
		lose.After(machine.NewHook("cancel_offer", func(ctx context.Context, a *machine.Attempt[*Opportunity]) error {
			if a.Record.Offer == nil {
				return nil
			}
			return cascade(ctx, offers, "cancel", []*Offer{a.Record.Offer})
		}))
	}

	return b.Build(opts...)
}

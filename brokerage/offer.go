package brokerage

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-fsm/eventbus"
	"github.com/goliatone/go-fsm/machine"
	"github.com/goliatone/go-fsm/store"
)

// Offer states.
const (
	OfferInCreation = "in_creation"
	OfferActive     = "active"
	OfferAccepted   = "accepted"
	OfferRejected   = "rejected"
	OfferExpired    = "expired"
	OfferCanceled   = "canceled"
)

// OfferOption is one insurer quote inside an offer.
type OfferOption struct {
	ID      string
	Insurer string
	// Premium is the yearly premium in cents.
	Premium int64
}

// Offer bundles quotes sent to a customer.
type Offer struct {
	*store.Entity
	Attachments

	Mandate        *Mandate
	Options        []OfferOption
	SelectedOption string
	ValidUntil     time.Time
}

// NewOffer returns an offer in its initial state.
func NewOffer(st store.StateStore, id string, mandate *Mandate, options ...OfferOption) *Offer {
	o := &Offer{
		Entity:  store.NewEntity(st, KindOffer, id, OfferInCreation),
		Mandate: mandate,
		Options: options,
	}
	o.init()
	return o
}

func offerFromRecord(st store.StateStore, row *store.StateRecord) *Offer {
	o := &Offer{
		Entity:         store.FromStateRecord(st, row),
		Options:        metaOptions(row.Metadata, "options"),
		SelectedOption: metaString(row.Metadata, "selected_option"),
		ValidUntil:     metaTime(row.Metadata, "valid_until"),
	}
	o.init()
	return o
}

func (o *Offer) init() {
	o.SetMachine(KindOffer)
	o.SetSnapshot(func() map[string]any {
		meta := map[string]any{
			"options":         optionsMeta(o.Options),
			"selected_option": o.SelectedOption,
		}
		if !o.ValidUntil.IsZero() {
			meta["valid_until"] = o.ValidUntil.UTC().Format(time.RFC3339Nano)
		}
		if o.Mandate != nil {
			meta["mandate_id"] = o.Mandate.RecordID()
		}
		return meta
	})
}

func optionsMeta(options []OfferOption) []any {
	out := make([]any, 0, len(options))
	for _, opt := range options {
		out = append(out, map[string]any{
			"id":      opt.ID,
			"insurer": opt.Insurer,
			"premium": opt.Premium,
		})
	}
	return out
}

func metaOptions(meta map[string]any, key string) []OfferOption {
	raw, _ := meta[key].([]any)
	var out []OfferOption
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, OfferOption{
			ID:      metaString(m, "id"),
			Insurer: metaString(m, "insurer"),
			Premium: metaInt64(m, "premium"),
		})
	}
	return out
}

// Option returns the option with id.
func (o *Offer) Option(id string) (OfferOption, bool) {
	id = strings.TrimSpace(id)
	for _, opt := range o.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return OfferOption{}, false
}

// Selected returns the accepted option.
func (o *Offer) Selected() (OfferOption, bool) {
	return o.Option(o.SelectedOption)
}

// MailRecipient implements notify.Recipient.
func (o *Offer) MailRecipient() (email, name string) {
	if o.Mandate == nil {
		return "", ""
	}
	return o.Mandate.MailRecipient()
}

// chosenOption resolves the option an accept refers to: the first argument
// when given, otherwise the only option.
func chosenOption(o *Offer, args machine.Args) (OfferOption, bool) {
	if id, ok := args.String(0); ok {
		return o.Option(id)
	}
	if len(o.Options) == 1 {
		return o.Options[0], true
	}
	return OfferOption{}, false
}

// NewOfferMachine builds the offer lifecycle. Accepting an offer sends the
// thank you mail; active offers expire once their validity lapses.
func NewOfferMachine(cfg Settings, bus *eventbus.Bus, now func() time.Time, opts ...machine.Option) (*machine.Machine[*Offer], error) {
	if now == nil {
		now = time.Now
	}
	mandateOf := func(o *Offer) *Mandate { return o.Mandate }

	enoughOptions := machine.NewGuard("enough_options", func(_ context.Context, o *Offer, _ machine.Args) bool {
		return len(o.Options) >= cfg.Offers.MinOptions && len(o.Options) > 0
	}).WithReason("options", "offer has too few options")

	validOption := machine.NewGuard("valid_option", func(_ context.Context, o *Offer, args machine.Args) bool {
		_, ok := chosenOption(o, args)
		return ok
	}).WithReason("option", "select one of the offered options")

	lapsed := machine.NewGuard("validity_lapsed", func(_ context.Context, o *Offer, _ machine.Args) bool {
		return !o.ValidUntil.IsZero() && now().After(o.ValidUntil)
	}).WithReason("valid_until", "offer is still valid")

	stampValidity := machine.NewHook("stamp_validity", func(_ context.Context, a *machine.Attempt[*Offer]) error {
		prev := a.Record.ValidUntil
		a.Record.ValidUntil = now().AddDate(0, 0, cfg.Offers.ValidityDays)
		a.OnRollback(func() { a.Record.ValidUntil = prev })
		return nil
	})

	selectOption := machine.NewHook("select_option", func(_ context.Context, a *machine.Attempt[*Offer]) error {
		opt, _ := chosenOption(a.Record, a.Args)
		prev := a.Record.SelectedOption
		a.Record.SelectedOption = opt.ID
		a.OnRollback(func() { a.Record.SelectedOption = prev })
		return nil
	})

	return machine.NewBuilder[*Offer](KindOffer).
		Initial(OfferInCreation).
		State(OfferActive).
		Terminal(OfferAccepted, OfferRejected, OfferExpired, OfferCanceled).
		Event("activate").From(OfferInCreation).To(OfferActive).
		Guard(mandateNotRevoked(mandateOf), enoughOptions).
		Before(stampValidity).
		Event("accept").From(OfferActive).To(OfferAccepted).
		Guard(mandateNotRevoked(mandateOf), validOption).
		Before(selectOption).
		After(broadcastHook[*Offer](bus, EventSendThankYouEmail, nil)).
		Event("reject").From(OfferActive).To(OfferRejected).
		Event("expire").From(OfferActive).To(OfferExpired).
		Guard(lapsed).
		Event("cancel").From(OfferInCreation, OfferActive).To(OfferCanceled).
		Done().
		Build(opts...)
}

package brokerage

import (
	"context"
	"strings"

	"github.com/goliatone/go-fsm/eventbus"
	"github.com/goliatone/go-fsm/machine"
	"github.com/goliatone/go-fsm/store"
)

// Mandate states.
const (
	MandateInCreation = "in_creation"
	MandateCreated    = "created"
	MandateAccepted   = "accepted"
	MandateRevoked    = "revoked"
	MandateRejected   = "rejected"
)

// DocumentSignature is the document type of a signed mandate.
const DocumentSignature = "signature"

// Mandate is a customer's brokerage mandate.
type Mandate struct {
	*store.Entity
	Thread
	Attachments

	CustomerName string
	Email        string
	Inquiries    []*Inquiry
}

// NewMandate returns a mandate in its initial state.
func NewMandate(st store.StateStore, id, customer, email string) *Mandate {
	m := &Mandate{
		Entity:       store.NewEntity(st, KindMandate, id, MandateInCreation),
		CustomerName: strings.TrimSpace(customer),
		Email:        strings.TrimSpace(email),
	}
	m.init()
	return m
}

func mandateFromRecord(st store.StateStore, row *store.StateRecord) *Mandate {
	m := &Mandate{
		Entity:       store.FromStateRecord(st, row),
		CustomerName: metaString(row.Metadata, "customer_name"),
		Email:        metaString(row.Metadata, "email"),
	}
	m.init()
	return m
}

func (m *Mandate) init() {
	m.SetMachine(KindMandate)
	m.SetSnapshot(func() map[string]any {
		return map[string]any{
			"customer_name": m.CustomerName,
			"email":         m.Email,
		}
	})
}

// AddInquiry links inq to the mandate.
func (m *Mandate) AddInquiry(inq *Inquiry) {
	inq.Mandate = m
	m.Inquiries = append(m.Inquiries, inq)
}

// Signed reports whether a signature document is attached.
func (m *Mandate) Signed() bool {
	return len(m.DocumentsOfType(DocumentSignature)) > 0
}

// MailRecipient implements notify.Recipient.
func (m *Mandate) MailRecipient() (email, name string) {
	return m.Email, m.CustomerName
}

// NewMandateMachine builds the mandate lifecycle. Accepting a mandate
// accepts its inquiries and revoking it cancels them.
func NewMandateMachine(
	cfg Settings,
	bus *eventbus.Bus,
	inquiries *machine.Machine[*Inquiry],
	opts ...machine.Option,
) (*machine.Machine[*Mandate], error) {
	hasCustomer := machine.NewGuard("has_customer", func(_ context.Context, m *Mandate, _ machine.Args) bool {
		return m.CustomerName != "" && m.Email != ""
	}).WithReason("customer", "customer name and email are required")

	signed := machine.NewGuard("signed", func(_ context.Context, m *Mandate, _ machine.Args) bool {
		return !cfg.Mandates.RequireSignature || m.Signed()
	}).WithReason("signature", "mandate must be signed")

	b := machine.NewBuilder[*Mandate](KindMandate).
		Initial(MandateInCreation).
		State(MandateCreated, MandateAccepted).
		Terminal(MandateRevoked, MandateRejected).
		Event("finish").From(MandateInCreation).To(MandateCreated).
		Guard(hasCustomer, signed).
		After(broadcastHook[*Mandate](bus, EventSendGreetingMail, nil)).
		Event("reject").From(MandateCreated).To(MandateRejected).
		Done()

	accept := b.Event("accept").From(MandateCreated).To(MandateAccepted)
	revoke := b.Event("revoke").From(MandateCreated, MandateAccepted).To(MandateRevoked)
	if cfg.Mandates.CascadeInquiries && inquiries != nil {
		accept.After(machine.NewHook("accept_inquiries", func(ctx context.Context, a *machine.Attempt[*Mandate]) error {
			return cascade(ctx, inquiries, "accept", a.Record.Inquiries)
		}))
		revoke.After(machine.NewHook("cancel_inquiries", func(ctx context.Context, a *machine.Attempt[*Mandate]) error {
			return cascade(ctx, inquiries, "cancel", a.Record.Inquiries)
		}))
	}

	return b.Build(opts...)
}

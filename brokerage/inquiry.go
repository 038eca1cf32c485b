package brokerage

import (
	"strings"

	"github.com/goliatone/go-fsm/machine"
	"github.com/goliatone/go-fsm/store"
)

// Inquiry states.
const (
	InquiryInCreation = "in_creation"
	InquiryPending    = "pending"
	InquiryContacted  = "contacted"
	InquiryCompleted  = "completed"
	InquiryCanceled   = "canceled"
)

// Inquiry asks an insurer for the customer's existing contracts.
type Inquiry struct {
	*store.Entity
	Thread

	Mandate  *Mandate
	Company  string
	Category string
}

// NewInquiry returns an inquiry in its initial state.
func NewInquiry(st store.StateStore, id, company, category string) *Inquiry {
	inq := &Inquiry{
		Entity:   store.NewEntity(st, KindInquiry, id, InquiryInCreation),
		Company:  strings.TrimSpace(company),
		Category: strings.TrimSpace(category),
	}
	inq.init()
	return inq
}

func (i *Inquiry) init() {
	i.SetMachine(KindInquiry)
	i.SetSnapshot(func() map[string]any {
		meta := map[string]any{
			"company":  i.Company,
			"category": i.Category,
		}
		if i.Mandate != nil {
			meta["mandate_id"] = i.Mandate.RecordID()
		}
		return meta
	})
}

// NewInquiryMachine builds the inquiry lifecycle.
func NewInquiryMachine(opts ...machine.Option) (*machine.Machine[*Inquiry], error) {
	mandateOf := func(i *Inquiry) *Mandate { return i.Mandate }

	return machine.NewBuilder[*Inquiry](KindInquiry).
		Initial(InquiryInCreation).
		State(InquiryPending, InquiryContacted).
		Terminal(InquiryCompleted, InquiryCanceled).
		Event("accept").From(InquiryInCreation).To(InquiryPending).
		Guard(mandateNotRevoked(mandateOf)).
		Event("contact").From(InquiryPending).To(InquiryContacted).
		Event("complete").From(InquiryContacted).To(InquiryCompleted).
		Event("cancel").From(InquiryInCreation, InquiryPending, InquiryContacted).To(InquiryCanceled).
		Done().
		Build(opts...)
}

package brokerage

import (
	"context"
	"errors"
	"testing"

	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMandateFinishRequiresSignature(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	m := s.NewMandate("m-1", "Jane Doe", "jane@example.com")

	res := s.Mandates.Fire(ctx, m, "finish")
	assert.Equal(t, fsm.OutcomeGuardFailed, res.Outcome)
	assert.Equal(t, "signature", res.Reason)
	assert.Equal(t, "signed", res.FailedGuard)
	assert.Equal(t, MandateInCreation, m.State())

	m.AttachDocument(Document{Type: "Signature", Name: "mandate.pdf"})
	res = s.Mandates.Fire(ctx, m, "finish")
	assert.True(t, res.Success)
	assert.Equal(t, 1, m.Version())
}

func TestMandateFinishWithoutSignatureWhenNotRequired(t *testing.T) {
	s, _ := newTestService(t, func(cfg *Settings) { cfg.Mandates.RequireSignature = false })
	m := s.NewMandate("m-1", "Jane Doe", "jane@example.com")

	assert.True(t, s.Mandates.Fire(context.Background(), m, "finish").Success)
}

func TestMandateFinishChecksCustomerFirst(t *testing.T) {
	s, _ := newTestService(t)
	m := s.NewMandate("m-1", "", "")

	res := s.Mandates.Fire(context.Background(), m, "finish")
	assert.Equal(t, "customer", res.Reason)
}

func TestMandateAcceptAndRevokeCascadeToInquiries(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	m := signedMandate(t, s, "m-1")
	open := s.NewInquiry("i-1", m, "Allianz", "liability")
	done := s.NewInquiry("i-2", m, "AXA", "household")

	res := s.Mandates.Fire(ctx, m, "accept")
	require.True(t, res.Success)
	assert.False(t, res.HasWarnings())
	assert.Equal(t, InquiryPending, open.State())
	assert.Equal(t, InquiryPending, done.State())

	for _, event := range []string{"contact", "complete"} {
		_, err := s.Inquiries.Apply(ctx, done, event)
		require.NoError(t, err)
	}

	res = s.Mandates.Fire(ctx, m, "revoke")
	require.True(t, res.Success)
	assert.False(t, res.HasWarnings())
	assert.Equal(t, MandateRevoked, m.State())
	assert.Equal(t, InquiryCanceled, open.State())
	assert.Equal(t, InquiryCompleted, done.State())
}

func TestMandateCascadeCanBeDisabled(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t, func(cfg *Settings) { cfg.Mandates.CascadeInquiries = false })
	m := signedMandate(t, s, "m-1")
	inq := s.NewInquiry("i-1", m, "Allianz", "liability")

	require.True(t, s.Mandates.Fire(ctx, m, "accept").Success)
	assert.Equal(t, InquiryInCreation, inq.State())
}

func TestMandateFinishSendsGreetingMail(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	sender := &fakeSender{}
	s.EnableMail(sender)

	signedMandate(t, s, "m-1")

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "jane@example.com", msgs[0].To)
	assert.Equal(t, EventSendGreetingMail, msgs[0].Tag)
	assert.Contains(t, msgs[0].TextBody, "Jane Doe")

	sender.err = errors.New("smtp down")
	m := s.NewMandate("m-2", "John Roe", "john@example.com")
	m.AttachDocument(Document{Type: DocumentSignature})
	res := s.Mandates.Fire(ctx, m, "finish")

	assert.True(t, res.Success)
	assert.Equal(t, MandateCreated, m.State())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, fsm.CodeAfterHookFailed, fsm.Code(res.Warnings[0]))
}

func TestMandateAuditTrail(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	m := signedMandate(t, s, "m-1")
	s.Mandates.Fire(ctx, m, "finish")

	committed := s.Audit.Committed(m)
	require.Len(t, committed, 1)
	assert.Equal(t, "finish", committed[0].Event)
	assert.Equal(t, MandateInCreation, committed[0].From)
	assert.Equal(t, MandateCreated, committed[0].To)
	assert.NotEmpty(t, committed[0].ID)

	var phases []machine.AuditPhase
	for _, e := range s.Audit.For(m) {
		phases = append(phases, e.Phase)
	}
	assert.Equal(t, []machine.AuditPhase{
		machine.AuditPhaseAttempted,
		machine.AuditPhaseCommitted,
		machine.AuditPhaseRejected,
	}, phases)
}

func TestLoadMandate(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	signedMandate(t, s, "m-1")

	loaded, err := s.LoadMandate(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, MandateCreated, loaded.State())
	assert.Equal(t, "Jane Doe", loaded.CustomerName)
	assert.Equal(t, "jane@example.com", loaded.Email)

	_, err = s.LoadMandate(ctx, "missing")
	assert.Error(t, err)
}

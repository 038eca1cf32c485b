// Package brokerage wires the insurance back office records (mandates,
// inquiries, offers and opportunities) to their state machines.
package brokerage

import (
	"context"
	"fmt"
	"time"

	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/brokerage/notify"
	"github.com/goliatone/go-fsm/eventbus"
	"github.com/goliatone/go-fsm/machine"
	"github.com/goliatone/go-fsm/metrics"
	"github.com/goliatone/go-fsm/scheduler"
	"github.com/goliatone/go-fsm/store"
)

// Service owns the machines and their shared collaborators.
type Service struct {
	Settings Settings
	Store    store.StateStore
	Bus      *eventbus.Bus
	Audit    *AuditLog

	Mandates      *machine.Machine[*Mandate]
	Inquiries     *machine.Machine[*Inquiry]
	Offers        *machine.Machine[*Offer]
	Opportunities *machine.Machine[*Opportunity]

	logger  fsm.Logger
	metrics *metrics.Collector
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	logger      fsm.Logger
	bus         *eventbus.Bus
	audit       *AuditLog
	now         func() time.Time
	metrics     *metrics.Collector
	machineOpts []machine.Option
}

// WithLogger sets the logger shared by the service and its machines.
func WithLogger(l fsm.Logger) Option {
	return func(o *serviceOptions) { o.logger = l }
}

// WithBus shares an existing event bus.
func WithBus(bus *eventbus.Bus) Option {
	return func(o *serviceOptions) { o.bus = bus }
}

// WithAuditLog shares an existing audit log.
func WithAuditLog(log *AuditLog) Option {
	return func(o *serviceOptions) { o.audit = log }
}

// WithClock overrides the time source used by offer validity.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// WithMetrics records fire results, listener deliveries and job runs on c.
// Deliveries are only observed on a bus created by the service.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *serviceOptions) { o.metrics = c }
}

// WithMachineOptions appends options applied to every machine, e.g.
// observers or an error reporter.
func WithMachineOptions(opts ...machine.Option) Option {
	return func(o *serviceOptions) { o.machineOpts = append(o.machineOpts, opts...) }
}

// NewService builds all machines. Configuration errors are returned as is.
func NewService(cfg Settings, st store.StateStore, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &serviceOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if st == nil {
		st = store.NewInMemoryStateStore()
	}
	logger := fsm.NormalizeLogger(o.logger)
	if o.bus == nil {
		busOpts := []eventbus.Option{eventbus.WithLogger(logger)}
		if o.metrics != nil {
			busOpts = append(busOpts, eventbus.WithDeliveryObserver(o.metrics))
		}
		o.bus = eventbus.New(busOpts...)
	}
	if o.audit == nil {
		o.audit = NewAuditLog()
	}

	mopts := append([]machine.Option{
		machine.WithLogger(logger),
		machine.WithAuditHooks(o.audit),
	}, o.machineOpts...)
	if o.metrics != nil {
		mopts = append(mopts, machine.WithObserver(o.metrics))
	}

	s := &Service{
		Settings: cfg,
		Store:    st,
		Bus:      o.bus,
		Audit:    o.audit,
		logger:   logger,
		metrics:  o.metrics,
	}

	var err error
	if s.Inquiries, err = NewInquiryMachine(mopts...); err != nil {
		return nil, fmt.Errorf("inquiry machine: %w", err)
	}
	if s.Offers, err = NewOfferMachine(cfg, s.Bus, o.now, mopts...); err != nil {
		return nil, fmt.Errorf("offer machine: %w", err)
	}
	if s.Mandates, err = NewMandateMachine(cfg, s.Bus, s.Inquiries, mopts...); err != nil {
		return nil, fmt.Errorf("mandate machine: %w", err)
	}
	if s.Opportunities, err = NewOpportunityMachine(cfg, s.Bus, s.Offers, mopts...); err != nil {
		return nil, fmt.Errorf("opportunity machine: %w", err)
	}
	return s, nil
}

// NewMandate creates a mandate backed by the service store.
func (s *Service) NewMandate(id, customer, email string) *Mandate {
	return NewMandate(s.Store, id, customer, email)
}

// NewInquiry creates an inquiry and links it to mandate when given.
func (s *Service) NewInquiry(id string, mandate *Mandate, company, category string) *Inquiry {
	inq := NewInquiry(s.Store, id, company, category)
	if mandate != nil {
		mandate.AddInquiry(inq)
	}
	return inq
}

// NewOffer creates an offer for mandate.
func (s *Service) NewOffer(id string, mandate *Mandate, options ...OfferOption) *Offer {
	return NewOffer(s.Store, id, mandate, options...)
}

// NewOpportunity creates an opportunity for mandate.
func (s *Service) NewOpportunity(id string, mandate *Mandate) *Opportunity {
	return NewOpportunity(s.Store, id, mandate)
}

// LoadMandate reads a mandate from the store. Inquiries are not restored.
func (s *Service) LoadMandate(ctx context.Context, id string) (*Mandate, error) {
	row, err := s.load(ctx, KindMandate, id)
	if err != nil {
		return nil, err
	}
	return mandateFromRecord(s.Store, row), nil
}

// LoadOffer reads an offer with its options and the mandate it was issued
// under. Attachments are not restored.
func (s *Service) LoadOffer(ctx context.Context, id string) (*Offer, error) {
	row, err := s.load(ctx, KindOffer, id)
	if err != nil {
		return nil, err
	}
	offer := offerFromRecord(s.Store, row)
	if mandateID := metaString(row.Metadata, "mandate_id"); mandateID != "" {
		if offer.Mandate, err = s.LoadMandate(ctx, mandateID); err != nil {
			return nil, err
		}
	}
	return offer, nil
}

func (s *Service) load(ctx context.Context, kind, id string) (*store.StateRecord, error) {
	row, err := s.Store.Load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fsm.NewError(store.ErrNotFound, fmt.Sprintf("%s %s not found", kind, id), nil, map[string]any{
			"kind": kind,
			"id":   id,
		})
	}
	return row, nil
}

// ExpireOffersJob fires expire on every active offer in the store.
func (s *Service) ExpireOffersJob() scheduler.FireJob[*Offer] {
	return scheduler.FireJob[*Offer]{
		Machine: s.Offers,
		Event:   "expire",
		Resolve: scheduler.FromStore(s.Store, KindOffer, OfferActive, func(row *store.StateRecord) *Offer {
			return offerFromRecord(s.Store, row)
		}),
		Logger: s.logger,
	}
}

// NewScheduler returns a scheduler sharing the service logger and metrics.
func (s *Service) NewScheduler(opts ...scheduler.Option) *scheduler.Scheduler {
	base := []scheduler.Option{scheduler.WithLogger(s.logger)}
	if s.metrics != nil {
		base = append(base, scheduler.WithJobObserver(s.metrics))
	}
	return scheduler.New(append(base, opts...)...)
}

// ScheduleOfferExpiry registers the expiry sweep on sched using the
// configured cron expression.
func (s *Service) ScheduleOfferExpiry(sched *scheduler.Scheduler) (scheduler.Handle, error) {
	return sched.ScheduleCron(s.Settings.Offers.ExpirySchedule, "expire_offers", s.ExpireOffersJob().Job())
}

// MailSender returns the postmark sender when mail is enabled and a logging
// sender otherwise.
func (s *Service) MailSender() (notify.Sender, error) {
	if !s.Settings.Mail.Enabled {
		return notify.LogSender{Logger: s.logger}, nil
	}
	return notify.NewPostmarkSender(notify.Config{
		ServerToken:  s.Settings.Mail.ServerToken,
		AccountToken: s.Settings.Mail.AccountToken,
		From:         s.Settings.Mail.Sender,
		ReplyTo:      s.Settings.Mail.ReplyTo,
	})
}

// EnableMail subscribes a notifier using sender to the mail events.
func (s *Service) EnableMail(sender notify.Sender) *notify.Notifier {
	n := notify.New(sender, s.logger)
	n.Register(s.Bus)
	return n
}

// Package notify sends transactional mails in reaction to bus events.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/eventbus"
	"github.com/mrz1836/postmark"
)

var (
	// ErrInvalidConfig is returned for unusable sender configuration.
	ErrInvalidConfig = errors.New("notify: invalid configuration")
	// ErrNoRecipient is returned when the payload carries no mail address.
	ErrNoRecipient = errors.New("notify: payload has no recipient")
	// ErrSendFailed wraps provider failures.
	ErrSendFailed = errors.New("notify: failed to send mail")
)

// Recipient is implemented by records that can receive mail.
type Recipient interface {
	MailRecipient() (email, name string)
}

// Message is a rendered mail.
type Message struct {
	To       string
	Subject  string
	TextBody string
	Tag      string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Template renders a message for a recipient.
type Template func(name string, payload []any) (subject, body string)

// Config configures the postmark sender.
type Config struct {
	ServerToken  string
	AccountToken string
	From         string
	ReplyTo      string
}

type postmarkSender struct {
	client *postmark.Client
	cfg    Config
}

// NewPostmarkSender returns a Sender backed by postmark.
func NewPostmarkSender(cfg Config) (Sender, error) {
	if strings.TrimSpace(cfg.ServerToken) == "" {
		return nil, fmt.Errorf("%w: server token is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("%w: from address is required", ErrInvalidConfig)
	}
	return &postmarkSender{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		cfg:    cfg,
	}, nil
}

func (s *postmarkSender) Send(ctx context.Context, msg Message) error {
	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.cfg.From,
		ReplyTo:    s.cfg.ReplyTo,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		TextBody:   msg.TextBody,
		TrackOpens: true,
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrSendFailed, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}

// LogSender logs messages instead of sending them.
type LogSender struct {
	Logger fsm.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	fsm.NormalizeLogger(s.Logger).Info("mail to=%s subject=%q tag=%s", msg.To, msg.Subject, msg.Tag)
	return nil
}

// Notifier is an event bus listener mapping events to mail templates.
type Notifier struct {
	sender    Sender
	templates map[string]Template
	logger    fsm.Logger
}

// New creates a notifier with the default templates.
func New(sender Sender, logger fsm.Logger) *Notifier {
	return &Notifier{
		sender:    sender,
		templates: DefaultTemplates(),
		logger:    fsm.NormalizeLogger(logger),
	}
}

// SetTemplate overrides the template for event.
func (n *Notifier) SetTemplate(event string, tpl Template) {
	n.templates[strings.ToLower(strings.TrimSpace(event))] = tpl
}

// Events returns the events the notifier handles.
func (n *Notifier) Events() []string {
	out := make([]string, 0, len(n.templates))
	for event := range n.templates {
		out = append(out, event)
	}
	return out
}

// Register subscribes the notifier to every templated event.
func (n *Notifier) Register(bus *eventbus.Bus) []eventbus.Subscription {
	subs := make([]eventbus.Subscription, 0, len(n.templates))
	for _, event := range n.Events() {
		subs = append(subs, bus.Subscribe(event, n))
	}
	return subs
}

// Handle sends the mail for event. The first payload element must be a
// Recipient.
func (n *Notifier) Handle(ctx context.Context, event string, payload ...any) error {
	tpl, ok := n.templates[event]
	if !ok {
		return nil
	}
	var rcpt Recipient
	if len(payload) > 0 {
		rcpt, _ = payload[0].(Recipient)
	}
	if rcpt == nil {
		return fmt.Errorf("%w: %s", ErrNoRecipient, event)
	}
	email, name := rcpt.MailRecipient()
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("%w: %s", ErrNoRecipient, event)
	}

	subject, body := tpl(name, payload[1:])
	msg := Message{To: email, Subject: subject, TextBody: body, Tag: event}
	if err := n.sender.Send(ctx, msg); err != nil {
		return err
	}
	n.logger.Debug("sent %s to %s", event, email)
	return nil
}

// DefaultTemplates returns the greeting and thank you mails.
func DefaultTemplates() map[string]Template {
	return map[string]Template{
		"send_greeting_mail": func(name string, _ []any) (string, string) {
			return "Welcome aboard", fmt.Sprintf("Hello %s,\n\nthank you for your mandate. We will take it from here.", greet(name))
		},
		"send_thank_you_email": func(name string, _ []any) (string, string) {
			return "Thank you for your order", fmt.Sprintf("Hello %s,\n\nwe received your acceptance and will forward it to the insurer.", greet(name))
		},
	}
}

func greet(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "there"
}

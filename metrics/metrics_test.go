package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/eventbus"
	"github.com/goliatone/go-fsm/machine"
	"github.com/goliatone/go-fsm/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lead struct {
	state string
}

func (l *lead) RecordID() string              { return "lead-1" }
func (l *lead) State() string                 { return l.state }
func (l *lead) SetState(s string)             { l.state = s }
func (l *lead) Persist(context.Context) error { return nil }

func TestCollectorObservesMachineResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	notify := machine.NewHook("notify", func(context.Context, *machine.Attempt[*lead]) error {
		return errors.New("mailer down")
	})
	m := machine.NewBuilder[*lead]("lead").
		Initial("new").
		Terminal("won", "lost").
		Event("win").From("new").To("won").After(notify).
		Event("lose").From("new").To("lost").
		Done().
		MustBuild(machine.WithLogger(fsm.NopLogger{}), machine.WithObserver(c))

	ctx := context.Background()
	rec := &lead{state: "new"}
	require.True(t, m.Fire(ctx, rec, "win").Success)
	require.False(t, m.Fire(ctx, rec, "lose").Success)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("lead", "win", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("lead", "lose", "invalid_event")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.afterHookFailures.WithLabelValues("lead", "win")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.fireDuration))
}

func TestCollectorObservesDeliveries(t *testing.T) {
	c := New(prometheus.NewRegistry())
	bus := eventbus.New(eventbus.WithLogger(fsm.NopLogger{}), eventbus.WithDeliveryObserver(c))

	bus.SubscribeFunc("send_greeting_mail", func(context.Context, string, ...any) error { return nil })
	bus.SubscribeFunc("send_greeting_mail", func(context.Context, string, ...any) error {
		return errors.New("bounced")
	})
	bus.Broadcast(context.Background(), "send_greeting_mail")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.deliveries.WithLabelValues("send_greeting_mail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.listenerFailures.WithLabelValues("send_greeting_mail")))
}

func TestCollectorObservesJobs(t *testing.T) {
	c := New(prometheus.NewRegistry())
	s := scheduler.New(
		scheduler.WithLogger(fsm.NopLogger{}),
		scheduler.WithErrorHandler(func(string, error) {}),
		scheduler.WithJobObserver(c),
	)

	ok, err := s.ScheduleAfter(0, "expire_offers", func(context.Context) error { return nil })
	require.NoError(t, err)
	failed, err := s.ScheduleAfter(0, "remind", func(context.Context) error { return errors.New("boom") })
	require.NoError(t, err)

	for _, h := range []scheduler.Handle{ok, failed} {
		select {
		case <-h.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("job did not finish")
		}
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobRuns.WithLabelValues("expire_offers", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobRuns.WithLabelValues("remind", "error")))
}

func TestCollectorIgnoresNil(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveResult(context.Background(), &fsm.Result{})
		c.ObserveDelivery("x", nil)
		c.ObserveJob("x", nil)
	})
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry()).ObserveResult(context.Background(), nil)
	})
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "unknown", sanitize(""))
	assert.Equal(t, "offer", sanitize("offer"))
}

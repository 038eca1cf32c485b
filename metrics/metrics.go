// Package metrics exposes prometheus instrumentation for machines, the event
// bus and scheduled jobs.
package metrics

import (
	"context"
	"errors"

	fsm "github.com/goliatone/go-fsm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements machine.Observer and eventbus.DeliveryObserver.
type Collector struct {
	transitions       *prometheus.CounterVec
	fireDuration      *prometheus.HistogramVec
	afterHookFailures *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	listenerFailures  *prometheus.CounterVec
	jobRuns           *prometheus.CounterVec
}

// New registers the collector's metrics with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fsm_transitions_total",
			Help: "Fire attempts by machine, event and outcome",
		}, []string{"machine", "event", "outcome"}),

		fireDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fsm_fire_duration_seconds",
			Help:    "Duration of fire attempts by machine and outcome",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"machine", "outcome"}),

		afterHookFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fsm_after_hook_failures_total",
			Help: "Isolated after hook failures on committed transitions",
		}, []string{"machine", "event"}),

		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fsm_listener_deliveries_total",
			Help: "Event bus listener invocations by event",
		}, []string{"event"}),

		listenerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fsm_listener_failures_total",
			Help: "Event bus listener failures by event",
		}, []string{"event"}),

		jobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fsm_job_runs_total",
			Help: "Scheduled job runs by job and outcome",
		}, []string{"job", "outcome"}),
	}
}

// ObserveResult records a fire result.
func (c *Collector) ObserveResult(_ context.Context, res *fsm.Result) {
	if c == nil || res == nil {
		return
	}
	machine := sanitize(res.Machine)
	outcome := sanitize(string(res.Outcome))

	c.transitions.WithLabelValues(machine, sanitize(res.Event), outcome).Inc()
	c.fireDuration.WithLabelValues(machine, outcome).Observe(res.Duration.Seconds())

	for _, w := range res.Warnings {
		if fsm.Code(w) == fsm.CodeAfterHookFailed {
			c.afterHookFailures.WithLabelValues(machine, sanitize(res.Event)).Inc()
		}
	}
}

// ObserveDelivery records a listener invocation.
func (c *Collector) ObserveDelivery(event string, err error) {
	if c == nil {
		return
	}
	event = sanitize(event)
	c.deliveries.WithLabelValues(event).Inc()
	if err != nil {
		c.listenerFailures.WithLabelValues(event).Inc()
	}
}

// ObserveJob records a scheduled job run.
func (c *Collector) ObserveJob(job string, err error) {
	if c == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "canceled"
	default:
		outcome = "error"
	}
	c.jobRuns.WithLabelValues(sanitize(job), outcome).Inc()
}

func sanitize(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

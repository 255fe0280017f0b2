package cqrs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks dispatch, delivery and saga activity.
type Metrics struct {
	CommandsDispatched *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	EventsPublished    *prometheus.CounterVec
	DeliveryFailures   *prometheus.CounterVec
	SagaSteps          *prometheus.CounterVec
	SagaDeadLetters    *prometheus.CounterVec
	InboxDepth         prometheus.Gauge
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CommandsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_commands_dispatched_total",
			Help: "Commands dispatched by type and outcome",
		}, []string{"command", "outcome"}),
		DispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accounts_command_dispatch_duration_seconds",
			Help:    "Duration of command handling, excluding downstream saga steps",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"command"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_events_published_total",
			Help: "Domain events published on the bus",
		}, []string{"event"}),
		DeliveryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_event_delivery_failures_total",
			Help: "Subscriber failures while delivering events",
		}, []string{"event"}),
		SagaSteps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_saga_steps_total",
			Help: "Saga reactions by saga and outcome",
		}, []string{"saga", "outcome"}),
		SagaDeadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_saga_dead_letters_total",
			Help: "Saga runs that ended in compensation failure",
		}, []string{"saga"}),
		InboxDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "accounts_saga_inbox_depth",
			Help: "Events queued for saga workers",
		}),
	}
}

func (m *Metrics) observeDispatch(command, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.CommandsDispatched.WithLabelValues(command, outcome).Inc()
	m.DispatchDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
}

func (m *Metrics) incPublished(event string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(event).Inc()
}

func (m *Metrics) incDeliveryFailure(event string) {
	if m == nil {
		return
	}
	m.DeliveryFailures.WithLabelValues(event).Inc()
}

func (m *Metrics) incSagaStep(saga, outcome string) {
	if m == nil {
		return
	}
	m.SagaSteps.WithLabelValues(saga, outcome).Inc()
}

// IncDeadLetter records a run that needs manual attention.
func (m *Metrics) IncDeadLetter(saga string) {
	if m == nil {
		return
	}
	m.SagaDeadLetters.WithLabelValues(saga).Inc()
}

func (m *Metrics) addInboxDepth(delta float64) {
	if m == nil {
		return
	}
	m.InboxDepth.Add(delta)
}

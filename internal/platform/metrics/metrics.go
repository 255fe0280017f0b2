package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process registry and the account-level counters.
type Metrics struct {
	Registry *prometheus.Registry

	RegistrationsAccepted prometheus.Counter
	RegistrationsRejected *prometheus.CounterVec
	AccountsDeleted       prometheus.Counter
	LoginAttempts         *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
}

// New creates a registry with Go and process collectors plus account metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		RegistrationsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "accounts_registrations_accepted_total",
			Help: "Registrations accepted for saga processing",
		}),
		RegistrationsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_registrations_rejected_total",
			Help: "Registrations rejected synchronously, by error code",
		}, []string{"code"}),
		AccountsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "accounts_deletions_accepted_total",
			Help: "Account deletions accepted for saga processing",
		}),
		LoginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_login_attempts_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accounts_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) IncrementRegistrationsAccepted() {
	if m == nil {
		return
	}
	m.RegistrationsAccepted.Inc()
}

func (m *Metrics) IncrementRegistrationsRejected(code string) {
	if m == nil {
		return
	}
	m.RegistrationsRejected.WithLabelValues(code).Inc()
}

func (m *Metrics) IncrementAccountsDeleted() {
	if m == nil {
		return
	}
	m.AccountsDeleted.Inc()
}

func (m *Metrics) IncrementLoginAttempts(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// ABOUTME: Prometheus collectors for fleet-server sessions, dispatch and auth
// ABOUTME: Each Metrics owns its registry so tests can build isolated instances

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatch outcomes recorded by JobsDispatched.
const (
	OutcomePushed     = "pushed"
	OutcomeQueued     = "queued"
	OutcomePushFailed = "push_failed"
	OutcomeRejected   = "rejected"
)

// Metrics groups the collectors fleet-server exports.
type Metrics struct {
	SessionsConnected prometheus.Gauge
	JobsDispatched    *prometheus.CounterVec
	JobResults        *prometheus.CounterVec
	AuthFailures      *prometheus.CounterVec
	Registrations     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		SessionsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleet",
			Name:      "sessions_connected",
			Help:      "Number of devices with a live session.",
		}),
		JobsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleet",
			Name:      "jobs_dispatched_total",
			Help:      "Dispatch attempts by outcome.",
		}, []string{"outcome"}),
		JobResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleet",
			Name:      "job_results_total",
			Help:      "Job results received by final status.",
		}, []string{"status"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleet",
			Name:      "auth_failures_total",
			Help:      "Refused device sessions by reason.",
		}, []string{"reason"}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleet",
			Name:      "registrations_total",
			Help:      "Device registrations by result.",
		}, []string{"result"}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.SessionsConnected,
		m.JobsDispatched,
		m.JobResults,
		m.AuthFailures,
		m.Registrations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

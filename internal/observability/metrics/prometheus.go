// Package metrics provides Prometheus metrics for the draft service and the
// submission pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drfirst/go-rxdraft/pkg/circuitbreaker"
)

// Metrics holds all application metrics
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	DraftsActive        prometheus.Gauge
	DraftsCreated       prometheus.Counter
	DraftsExpired       prometheus.Counter
	Submissions         *prometheus.CounterVec
	SubmitDuration      prometheus.Histogram
	Imports             *prometheus.CounterVec
	AppointmentsStale   prometheus.Counter
	OTPSends            *prometheus.CounterVec
	OutboxPublished     prometheus.Counter
	OutboxPending       prometheus.Gauge
	ArchiveResults      *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all metrics and registers them with reg. Tests pass a fresh
// prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxdraft_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rxdraft_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"route"}),
		DraftsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rxdraft_drafts_active",
			Help: "Drafts currently held in memory",
		}),
		DraftsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxdraft_drafts_created_total",
			Help: "Drafts created",
		}),
		DraftsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxdraft_drafts_expired_total",
			Help: "Drafts discarded after inactivity",
		}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxdraft_submissions_total",
			Help: "Draft submissions by outcome",
		}, []string{"outcome"}),
		SubmitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rxdraft_submit_duration_seconds",
			Help:    "Time to persist a submission",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}),
		Imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxdraft_imports_total",
			Help: "Medication imports by kind",
		}, []string{"kind"}),
		AppointmentsStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxdraft_appointments_stale_total",
			Help: "Appointment lists served from a stale snapshot",
		}),
		OTPSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxdraft_otp_sends_total",
			Help: "OTP send attempts by outcome",
		}, []string{"outcome"}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxdraft_outbox_published_total",
			Help: "Outbox entries relayed to Redpanda",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rxdraft_outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		ArchiveResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxdraft_archive_results_total",
			Help: "Print archive outcomes",
		}, []string{"outcome"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rxdraft_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.DraftsActive,
		m.DraftsCreated,
		m.DraftsExpired,
		m.Submissions,
		m.SubmitDuration,
		m.Imports,
		m.AppointmentsStale,
		m.OTPSends,
		m.OutboxPublished,
		m.OutboxPending,
		m.ArchiveResults,
		m.CircuitBreakerState,
	)

	return m
}

// BreakerStateChanged records a transition. It matches the manager hook.
func (m *Metrics) BreakerStateChanged(name string, from, to circuitbreaker.State) {
	var v float64
	switch to {
	case circuitbreaker.StateOpen:
		v = 1
	case circuitbreaker.StateHalfOpen:
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Package metrics exposes prometheus instruments for verification, identity
// reconciliation and manual review. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SessionsStarted    prometheus.Counter
	SessionsFinished   *prometheus.CounterVec
	SessionsActive     prometheus.Gauge
	SessionDuration    prometheus.Histogram
	ProfileFetchErrors *prometheus.CounterVec
	Reconciliations    *prometheus.CounterVec
	ReviewsResolved    *prometheus.CounterVec
}

// New registers every instrument with reg. Pass prometheus.DefaultRegisterer in
// production and prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "guildgate_sessions_started_total",
			Help: "Total number of verification sessions started",
		}),
		SessionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guildgate_sessions_finished_total",
			Help: "Verification sessions by terminal state",
		}, []string{"state"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "guildgate_sessions_active",
			Help: "Verification sessions currently in progress",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "guildgate_session_duration_seconds",
			Help:    "Wall time from session start to terminal state",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 900, 1800},
		}),
		ProfileFetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guildgate_profile_fetch_errors_total",
			Help: "Profile service failures by kind",
		}, []string{"kind"}),
		Reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guildgate_reconcile_total",
			Help: "Identity reconciliations by outcome",
		}, []string{"outcome"}),
		ReviewsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guildgate_reviews_resolved_total",
			Help: "Manual reviews resolved by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// SessionFinished records a terminal state. Call with the session start time.
func (m *Metrics) SessionFinished(state string, start time.Time) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsFinished.WithLabelValues(state).Inc()
	m.SessionDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ProfileFetchError(kind string) {
	if m == nil {
		return
	}
	m.ProfileFetchErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) Reconciled(outcome string) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReviewResolved(outcome string) {
	if m == nil {
		return
	}
	m.ReviewsResolved.WithLabelValues(outcome).Inc()
}

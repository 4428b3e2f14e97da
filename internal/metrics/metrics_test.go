package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSessionLifecycle(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionStarted()
	m.SessionStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SessionsStarted))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SessionsActive))

	m.SessionFinished("success", time.Now())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsFinished.WithLabelValues("success")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.SessionsFinished.WithLabelValues("denied")))
}

func TestLabelledCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ProfileFetchError("service")
	m.Reconciled("created")
	m.Reconciled("created")
	m.ReviewResolved("accept")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProfileFetchErrors.WithLabelValues("service")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Reconciliations.WithLabelValues("created")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReviewsResolved.WithLabelValues("accept")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.SessionFinished("timed_out", time.Now())
		m.ProfileFetchError("history")
		m.Reconciled("conflict")
		m.ReviewResolved("deny")
	})
}

package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.IngestEvent(OutcomeApplied)
	m.IngestEvent(OutcomeApplied)
	m.IngestEvent(OutcomeShielded)
	m.Commit("learning", OutcomeCommitted)
	m.OrphansPruned(2)
	m.OrphansPruned(0)
	m.PickerRetry()
	m.IdentityRepair()
	m.Enforcement("apply", nil)
	m.Enforcement("apply", errors.New("x"))
	m.Items("reward", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestEvents().WithLabelValues(OutcomeApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestEvents().WithLabelValues(OutcomeShielded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commits().WithLabelValues("learning", OutcomeCommitted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Orphans()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PickerRetries()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IdentityRepairs()))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IngestEvent(OutcomeApplied)
		m.Commit("reward", OutcomeConflict)
		m.OrphansPruned(1)
		m.PickerRetry()
		m.IdentityRepair()
		m.Enforcement("remove", nil)
		m.Items("learning", 1)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.IngestEvent(OutcomeDuplicate)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `screentime_ingest_events_total{outcome="duplicate"} 1`))
}

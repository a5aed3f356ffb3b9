package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCountsByOutcome(t *testing.T) {
	m := New()
	m.Observe(OutcomeCacheHit, time.Millisecond)
	m.Observe(OutcomeCacheHit, time.Millisecond)
	m.Observe(OutcomeGenerated, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues(OutcomeCacheHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues(OutcomeGenerated)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Requests.WithLabelValues(OutcomeFailed)))
}

func TestCountersAndGauge(t *testing.T) {
	m := New()
	m.CacheError("get")
	m.Retrieval("ok")
	m.Generation("GenerationTimeout")
	m.SetInFlight(3)
	m.Invalidated()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheErrors.WithLabelValues("get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retrievals.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Generations.WithLabelValues("GenerationTimeout")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.InFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invalidation))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Observe(OutcomeFailed, time.Second)
		m.CacheError("put")
		m.SetInFlight(1)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Observe(OutcomeNearHit, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `rag_requests_total{outcome="near_hit"} 1`))
}

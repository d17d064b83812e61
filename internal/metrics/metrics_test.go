package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/integrationhub/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.JobsSubmitted.WithLabelValues("echo").Inc()
	m.ExecutionsFinished.WithLabelValues("echo", "SUCCESS").Inc()
	m.AttemptDuration.WithLabelValues("echo").Observe(0.2)
	m.AttemptsInFlight.Set(3)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["integrationhub_jobs_submitted_total"])
	assert.True(t, names["integrationhub_executions_finished_total"])
	assert.True(t, names["integrationhub_attempt_duration_seconds"])
	assert.True(t, names["integrationhub_attempts_in_flight"])
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg)

	assert.Panics(t, func() { metrics.New(reg) })
}

func TestHandler_ServesExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.JobsSubmitted.WithLabelValues("spacex_latest_launch").Add(2)

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `integrationhub_jobs_submitted_total{connector="spacex_latest_launch"} 2`)
}

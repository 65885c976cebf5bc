package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveWorkerTask(t *testing.T) {
	m := NewMetrics()

	m.ObserveWorkerTask("control_single_pass", true, 300*time.Millisecond)
	m.ObserveWorkerTask("control_single_pass", false, time.Second)
	m.ObserveWorkerTask("control_single_pass", true, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.workerTasks.WithLabelValues("control_single_pass", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workerTasks.WithLabelValues("control_single_pass", "err")))
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.IncSubmissions()
	m.IncSubmissions()
	m.IncAdaptation("latency_spike", false)
	m.IncCanaryReport("cap-1", true)
	m.AddGovernanceMerged(3)
	m.AddGovernanceMerged(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.adaptations.WithLabelValues("latency_spike", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.canaryReports.WithLabelValues("cap-1", "success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.governanceMerged))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest("/orchestrate", http.MethodPost, http.StatusOK, 120*time.Millisecond)
	m.ObserveRun(0.9, 1500, 0.01)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `spooky_api_requests_total{code="200",method="POST",path="/orchestrate"} 1`)
	assert.Contains(t, body, "spooky_task_accuracy_count 1")
	assert.Contains(t, body, "spooky_latency_ms_bucket")
}

func TestMetrics_IsolatedRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics()
		NewMetrics()
	})
}

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector exported by the control plane
type Metrics struct {
	registry *prometheus.Registry

	submissions      prometheus.Counter
	accuracy         prometheus.Histogram
	latencyMs        prometheus.Histogram
	costUSD          prometheus.Histogram
	apiRequests      *prometheus.CounterVec
	apiLatency       *prometheus.HistogramVec
	workerTasks      *prometheus.CounterVec
	workerLatency    *prometheus.HistogramVec
	tenantResults    *prometheus.CounterVec
	adaptations      *prometheus.CounterVec
	canaryReports    *prometheus.CounterVec
	eventsPublished  *prometheus.CounterVec
	governanceMerged prometheus.Counter
}

// NewMetrics creates the collectors and registers them on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spooky_submissions_total",
			Help: "Tasks submitted",
		}),
		accuracy: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spooky_task_accuracy",
			Help:    "Outcome score",
			Buckets: []float64{0.5, 0.7, 0.8, 0.9, 0.95, 1.0},
		}),
		latencyMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spooky_latency_ms",
			Help:    "End-to-end latency (ms)",
			Buckets: []float64{200, 500, 1000, 2000, 5000, 10000},
		}),
		costUSD: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spooky_cost_usd",
			Help:    "Estimated cost (USD)",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		apiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spooky_api_requests_total",
				Help: "API requests",
			},
			[]string{"path", "method", "code"},
		),
		apiLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spooky_api_latency_seconds",
				Help:    "API latency (s)",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"path", "method"},
		),
		workerTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spooky_worker_tasks_total",
				Help: "Worker tasks completed",
			},
			[]string{"playbook", "status"},
		),
		workerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spooky_worker_task_latency_seconds",
				Help:    "Worker task latency (s)",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"playbook"},
		),
		tenantResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spooky_tenant_result",
				Help: "Results recorded per tenant and arm",
			},
			[]string{"tenant", "arm"},
		),
		adaptations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spooky_policy_adaptations_total",
				Help: "Adaptive policy executions",
			},
			[]string{"rule", "outcome"},
		),
		canaryReports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spooky_canary_reports_total",
				Help: "Canary outcomes reported for quarantined capabilities",
			},
			[]string{"capability", "outcome"},
		),
		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spooky_events_published_total",
				Help: "Events published on the event bus",
			},
			[]string{"type", "status"},
		),
		governanceMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spooky_governance_merged_entries_total",
			Help: "Governance entries replaced by a state merge",
		}),
	}

	m.registry.MustRegister(
		m.submissions,
		m.accuracy,
		m.latencyMs,
		m.costUSD,
		m.apiRequests,
		m.apiLatency,
		m.workerTasks,
		m.workerLatency,
		m.tenantResults,
		m.adaptations,
		m.canaryReports,
		m.eventsPublished,
		m.governanceMerged,
	)

	return m
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncSubmissions counts an accepted orchestration request
func (m *Metrics) IncSubmissions() {
	m.submissions.Inc()
}

// ObserveRun records the outcome of a playbook run
func (m *Metrics) ObserveRun(score float64, latencyMs int64, costUSD float64) {
	m.accuracy.Observe(score)
	m.latencyMs.Observe(float64(latencyMs))
	m.costUSD.Observe(costUSD)
}

// ObserveRequest records an API request
func (m *Metrics) ObserveRequest(path, method string, code int, elapsed time.Duration) {
	m.apiRequests.WithLabelValues(path, method, strconv.Itoa(code)).Inc()
	m.apiLatency.WithLabelValues(path, method).Observe(elapsed.Seconds())
}

// ObserveWorkerTask records a task processed by the worker pool
func (m *Metrics) ObserveWorkerTask(playbook string, ok bool, elapsed time.Duration) {
	status := "ok"
	if !ok {
		status = "err"
	}
	m.workerTasks.WithLabelValues(playbook, status).Inc()
	m.workerLatency.WithLabelValues(playbook).Observe(elapsed.Seconds())
}

// IncTenantResult counts a result recorded by a tenant conductor
func (m *Metrics) IncTenantResult(tenant, arm string) {
	m.tenantResults.WithLabelValues(tenant, arm).Inc()
}

// IncAdaptation counts an adaptive policy execution
func (m *Metrics) IncAdaptation(rule string, success bool) {
	m.adaptations.WithLabelValues(rule, outcome(success)).Inc()
}

// IncCanaryReport counts a canary report
func (m *Metrics) IncCanaryReport(capability string, success bool) {
	m.canaryReports.WithLabelValues(capability, outcome(success)).Inc()
}

// IncEventPublished counts an event bus publish attempt
func (m *Metrics) IncEventPublished(eventType string, err error) {
	status := "ok"
	if err != nil {
		status = "err"
	}
	m.eventsPublished.WithLabelValues(eventType, status).Inc()
}

// AddGovernanceMerged counts entries replaced by a governance merge
func (m *Metrics) AddGovernanceMerged(n int) {
	if n > 0 {
		m.governanceMerged.Add(float64(n))
	}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

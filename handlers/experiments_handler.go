package handlers

import (
	"net/http"

	"github.com/avaprime/spooky-logic/services/experiments"
	"github.com/avaprime/spooky-logic/services/federation"
	"github.com/avaprime/spooky-logic/utils"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ExperimentsHandler serves /experiments and /expstore
type ExperimentsHandler struct {
	manager *experiments.Manager
	sampler *experiments.Sampler
	store   *experiments.StoreService // nil without a database
	logger  *zap.Logger
}

// NewExperimentsHandler creates a new ExperimentsHandler
func NewExperimentsHandler(manager *experiments.Manager, sampler *experiments.Sampler, store *experiments.StoreService, logger *zap.Logger) *ExperimentsHandler {
	return &ExperimentsHandler{manager: manager, sampler: sampler, store: store, logger: logger}
}

// RecordResultRequest records one in-memory experiment result
type RecordResultRequest struct {
	Experiment string  `json:"experiment" validate:"required"`
	Arm        string  `json:"arm" validate:"required"`
	Score      float64 `json:"score" validate:"gte=0,lte=1"`
	Cost       float64 `json:"cost" validate:"gte=0"`
	LatencyMs  float64 `json:"latency_ms" validate:"gte=0"`
	Domain     string  `json:"domain,omitempty"`
}

// HandleRecord handles POST /experiments/record
func (h *ExperimentsHandler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	var req RecordResultRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	if err := h.manager.Record(req.Experiment, req.Arm, req.Score, req.Cost, req.LatencyMs); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if req.Domain != "" {
		h.sampler.Record(req.Domain, req.Score)
	}
	writeOK(w, r, map[string]interface{}{
		"ok":    true,
		"count": h.manager.Count(req.Experiment, req.Arm),
	}, h.logger)
}

// HandleSummary handles GET /experiments/summary?experiment&a&b
func (h *ExperimentsHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	experiment := q.Get("experiment")
	if experiment == "" {
		_ = utils.WriteBadRequest(w, "experiment is required", nil)
		return
	}
	writeOK(w, r, h.manager.Summarize(experiment, q.Get("a"), q.Get("b")), h.logger)
}

// HandleBootstrap handles POST /experiments/bootstrap
func (h *ExperimentsHandler) HandleBootstrap(w http.ResponseWriter, r *http.Request) {
	var req experiments.BootstrapRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	res, err := experiments.Bootstrap(req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, res, h.logger)
}

// SampleSizeRequest asks for the sample size of a domain. Scores override
// the recorded domain history when given.
type SampleSizeRequest struct {
	Domain string    `json:"domain"`
	Scores []float64 `json:"scores,omitempty"`
	BaseN  int       `json:"base_n,omitempty" validate:"omitempty,gte=1,lte=100000"`
}

// HandleSampleSize handles POST /experiments/sample-size
func (h *ExperimentsHandler) HandleSampleSize(w http.ResponseWriter, r *http.Request) {
	var req SampleSizeRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	var n int
	if len(req.Scores) > 0 {
		base := req.BaseN
		if base == 0 {
			base = 20
		}
		n = experiments.RequiredSamples(req.Scores, base)
	} else {
		n = h.sampler.RequiredSamples(req.Domain)
	}
	writeOK(w, r, map[string]interface{}{"domain": req.Domain, "required_samples": n}, h.logger)
}

func (h *ExperimentsHandler) storeAvailable(w http.ResponseWriter) bool {
	if h.store == nil {
		_ = utils.WriteServiceUnavailable(w, "experiment store requires a database", nil)
		return false
	}
	return true
}

// HandleStoreCreate handles POST /expstore/create
func (h *ExperimentsHandler) HandleStoreCreate(w http.ResponseWriter, r *http.Request) {
	if !h.storeAvailable(w) {
		return
	}
	var req experiments.CreateRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	exp, err := h.store.Create(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeCreated(w, r, exp, h.logger)
}

// HandleStoreRecord handles POST /expstore/record
func (h *ExperimentsHandler) HandleStoreRecord(w http.ResponseWriter, r *http.Request) {
	if !h.storeAvailable(w) {
		return
	}
	var req experiments.RecordRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	sample, err := h.store.Record(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeCreated(w, r, sample, h.logger)
}

// HandleStoreSummary handles GET /expstore/{name}/summary
func (h *ExperimentsHandler) HandleStoreSummary(w http.ResponseWriter, r *http.Request) {
	if !h.storeAvailable(w) {
		return
	}
	q := r.URL.Query()
	summary, err := h.store.Summary(r.Context(), chi.URLParam(r, "name"), q.Get("a"), q.Get("b"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, summary, h.logger)
}

// FederationHandler serves /federation
type FederationHandler struct {
	aggregator *federation.Aggregator
	logger     *zap.Logger
}

// NewFederationHandler creates a new FederationHandler
func NewFederationHandler(aggregator *federation.Aggregator, logger *zap.Logger) *FederationHandler {
	return &FederationHandler{aggregator: aggregator, logger: logger}
}

// HandleIngest handles POST /federation/ingest
func (h *FederationHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var sample federation.ClusterSample
	if !decodeRequest(w, r, &sample, h.logger) {
		return
	}
	writeOK(w, r, h.aggregator.Ingest(sample), h.logger)
}

// HandleSummary handles GET /federation/summary?tenant&a&b
func (h *FederationHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("tenant") == "" || q.Get("a") == "" || q.Get("b") == "" {
		_ = utils.WriteBadRequest(w, "tenant, a and b are required", nil)
		return
	}
	summary, err := h.aggregator.SummarizeGlobal(r.Context(), q.Get("tenant"), q.Get("a"), q.Get("b"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, summary, h.logger)
}

// HandleDrift handles GET /federation/drift?tenant&arm&z
func (h *FederationHandler) HandleDrift(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("tenant") == "" || q.Get("arm") == "" {
		_ = utils.WriteBadRequest(w, "tenant and arm are required", nil)
		return
	}
	report := h.aggregator.DetectClusterDrift(q.Get("tenant"), q.Get("arm"), queryFloat(r, "z", federation.DefaultZThreshold))
	writeOK(w, r, report, h.logger)
}

// HandleClusters handles GET /federation/clusters
func (h *FederationHandler) HandleClusters(w http.ResponseWriter, r *http.Request) {
	clusters := h.aggregator.Clusters()
	writeOK(w, r, map[string]interface{}{"clusters": clusters, "total": len(clusters)}, h.logger)
}

// ClusterSummaryRequest selects the feature aggregation
type ClusterSummaryRequest struct {
	Method string `json:"aggregation_method,omitempty" validate:"omitempty,oneof=mean median sum"`
}

// HandleClusterSummary handles POST /federation/clusters/{id}/summary
func (h *FederationHandler) HandleClusterSummary(w http.ResponseWriter, r *http.Request) {
	var req ClusterSummaryRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	summary, err := h.aggregator.ClusterSummary(chi.URLParam(r, "id"), req.Method)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, summary, h.logger)
}

// ClusterDriftRequest sets the relative drift threshold
type ClusterDriftRequest struct {
	Threshold float64 `json:"threshold,omitempty" validate:"omitempty,gt=0,lte=10"`
}

// HandleClusterDrift handles POST /federation/clusters/{id}/drift
func (h *FederationHandler) HandleClusterDrift(w http.ResponseWriter, r *http.Request) {
	var req ClusterDriftRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	report, err := h.aggregator.ClusterDrift(chi.URLParam(r, "id"), req.Threshold)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, report, h.logger)
}

// HandleClusterHealth handles GET /federation/clusters/{id}/health
func (h *FederationHandler) HandleClusterHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.aggregator.ClusterHealth(chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, health, h.logger)
}

package handlers

import (
	"context"
	"net/http"

	"github.com/avaprime/spooky-logic/middleware"
	"github.com/avaprime/spooky-logic/services/orchestration"
	"github.com/avaprime/spooky-logic/services/playbook"
	"github.com/avaprime/spooky-logic/services/routing"
	"github.com/avaprime/spooky-logic/utils"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Orchestrator accepts goals and reports on their runs
type Orchestrator interface {
	Orchestrate(ctx context.Context, req orchestration.OrchestrateRequest) (*orchestration.OrchestrateResponse, error)
	GetRun(ctx context.Context, id string) (orchestration.Run, error)
}

// PlaybookLister lists the playbooks available to the router
type PlaybookLister interface {
	List() ([]playbook.Info, error)
}

// OrchestrationHandler serves /orchestrate, /runs, /playbooks, /agents and /routing
type OrchestrationHandler struct {
	orchestrator Orchestrator
	playbooks    PlaybookLister
	router       *routing.Router
	weights      *routing.WeightStore
	learner      *routing.Learner
	trust        *routing.TrustAwareRouter
	logger       *zap.Logger
}

// NewOrchestrationHandler creates a new OrchestrationHandler
func NewOrchestrationHandler(
	orchestrator Orchestrator,
	playbooks PlaybookLister,
	router *routing.Router,
	weights *routing.WeightStore,
	logger *zap.Logger,
) *OrchestrationHandler {
	return &OrchestrationHandler{
		orchestrator: orchestrator,
		playbooks:    playbooks,
		router:       router,
		weights:      weights,
		learner:      routing.NewLearner(weights, logger),
		trust:        routing.NewTrustAwareRouter(weights, logger),
		logger:       logger,
	}
}

// HandleOrchestrate handles POST /orchestrate
func (h *OrchestrationHandler) HandleOrchestrate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req orchestration.OrchestrateRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	if req.Tenant == "" {
		req.Tenant = middleware.GetTenantFromContext(ctx)
	}

	resp, err := h.orchestrator.Orchestrate(ctx, req)
	if err != nil {
		h.logger.Warn("orchestration refused",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, resp, h.logger)
}

// HandleGetRun handles GET /runs/{id}
func (h *OrchestrationHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.orchestrator.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, run, h.logger)
}

// HandleListPlaybooks handles GET /playbooks
func (h *OrchestrationHandler) HandleListPlaybooks(w http.ResponseWriter, r *http.Request) {
	list, err := h.playbooks.List()
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, map[string]interface{}{
		"playbooks": list,
		"trials":    h.router.Trials(),
	}, h.logger)
}

// HandleEnableTrial handles POST /playbooks/{name}/trial
func (h *OrchestrationHandler) HandleEnableTrial(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h.router.EnableTrial(name)
	h.logger.Info("playbook trial enabled", zap.String("playbook", name))
	writeOK(w, r, map[string]interface{}{"trial_enabled": name}, h.logger)
}

// HandleRegisterAgent handles POST /agents/register
func (h *OrchestrationHandler) HandleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var manifest routing.ToolManifest
	if !decodeRequest(w, r, &manifest, h.logger) {
		return
	}
	h.router.RegisterExternalTool(manifest)
	writeCreated(w, r, map[string]interface{}{"registered": manifest.Name}, h.logger)
}

// HandleWeights handles GET /routing/weights
func (h *OrchestrationHandler) HandleWeights(w http.ResponseWriter, r *http.Request) {
	if role := r.URL.Query().Get("role"); role != "" {
		writeOK(w, r, map[string]routing.Weights{role: h.weights.Get(role)}, h.logger)
		return
	}
	writeOK(w, r, h.weights.All(), h.logger)
}

// OutcomeRequest reports the winner of a comparison for a role
type OutcomeRequest struct {
	Role   string  `json:"role" validate:"required"`
	Winner string  `json:"winner" validate:"required"`
	Alpha  float64 `json:"alpha,omitempty" validate:"omitempty,gt=0,lt=1"`
}

// HandleOutcome handles POST /routing/outcome
func (h *OrchestrationHandler) HandleOutcome(w http.ResponseWriter, r *http.Request) {
	var req OutcomeRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	weights, err := h.learner.Update(req.Role, req.Winner, req.Alpha)
	if err != nil {
		h.logger.Error("failed to update weights", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "failed to persist router weights")
		return
	}
	writeOK(w, r, map[string]interface{}{"role": req.Role, "weights": weights}, h.logger)
}

// TrustRequest applies a supply chain trust score to a candidate
type TrustRequest struct {
	Role       string  `json:"role" validate:"required"`
	Candidate  string  `json:"candidate" validate:"required"`
	TrustScore float64 `json:"trust_score" validate:"gte=0,lte=1"`
	Alpha      float64 `json:"alpha,omitempty" validate:"omitempty,gt=0,lt=1"`
}

// HandleTrust handles POST /routing/trust
func (h *OrchestrationHandler) HandleTrust(w http.ResponseWriter, r *http.Request) {
	var req TrustRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	weights, err := h.trust.ApplyTrust(req.Role, req.Candidate, req.TrustScore, req.Alpha)
	if err != nil {
		h.logger.Error("failed to apply trust", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "failed to persist router weights")
		return
	}
	writeOK(w, r, map[string]interface{}{"role": req.Role, "weights": weights}, h.logger)
}

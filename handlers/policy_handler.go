package handlers

import (
	"context"
	"net/http"

	rules "github.com/avaprime/spooky-logic/internal/policy"
	"github.com/avaprime/spooky-logic/services/orchestration"
	"github.com/avaprime/spooky-logic/services/policy"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// PolicyEngine is the adaptive policy engine as seen by the HTTP layer
type PolicyEngine interface {
	AddRule(r *rules.Rule) error
	Rules() []policy.RuleView
	ExecuteByName(ctx context.Context, name string) (*policy.Outcome, error)
	Effectiveness() map[string]policy.Effectiveness
}

// Cycler runs one adaptive evaluation cycle
type Cycler interface {
	Cycle(ctx context.Context) (*orchestration.CycleReport, error)
}

// PolicyHandler handles adaptive policy rule requests
type PolicyHandler struct {
	engine PolicyEngine
	loop   Cycler
	logger *zap.Logger
}

// NewPolicyHandler creates a new PolicyHandler
func NewPolicyHandler(engine PolicyEngine, loop Cycler, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{
		engine: engine,
		loop:   loop,
		logger: logger,
	}
}

// HandleListPolicies handles GET /policies
func (h *PolicyHandler) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	views := h.engine.Rules()
	writeOK(w, r, map[string]interface{}{
		"rules":         views,
		"total":         len(views),
		"effectiveness": h.engine.Effectiveness(),
	}, h.logger)
}

// HandleCreatePolicy handles POST /policies. A rule with an existing name
// replaces it.
func (h *PolicyHandler) HandleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if !decodeRequest(w, r, &rule, h.logger) {
		return
	}

	if err := h.engine.AddRule(&rule); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("policy rule registered",
		zap.String("rule", rule.Name),
		zap.String("action", string(rule.Action)))
	writeCreated(w, r, rule, h.logger)
}

// HandleEvaluate handles POST /policies/evaluate: one full adaptive cycle
func (h *PolicyHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	report, err := h.loop.Cycle(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, report, h.logger)
}

// HandleExecutePolicy handles POST /policies/{name}/execute
func (h *PolicyHandler) HandleExecutePolicy(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.engine.ExecuteByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, outcome, h.logger)
}

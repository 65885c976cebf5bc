package handlers

import (
	"net/http"

	"github.com/avaprime/spooky-logic/services/redteam"
	"github.com/avaprime/spooky-logic/services/rollback"
	"github.com/avaprime/spooky-logic/services/supplychain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// RollbackHandler serves /rollback
type RollbackHandler struct {
	controller *rollback.Controller
	logger     *zap.Logger
}

// NewRollbackHandler creates a new RollbackHandler
func NewRollbackHandler(controller *rollback.Controller, logger *zap.Logger) *RollbackHandler {
	return &RollbackHandler{controller: controller, logger: logger}
}

// HandleStart handles POST /rollback/start
func (h *RollbackHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req rollback.StartRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	writeCreated(w, r, h.controller.Start(r.Context(), req), h.logger)
}

// HandleStatus handles GET /rollback/{id}
func (h *RollbackHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	plan, err := h.controller.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, plan, h.logger)
}

// HandleTick handles POST /rollback/{id}/tick
func (h *RollbackHandler) HandleTick(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, h.controller.Tick(r.Context(), chi.URLParam(r, "id")), h.logger)
}

// HandleAbort handles POST /rollback/{id}/abort
func (h *RollbackHandler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	plan, err := h.controller.Abort(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, plan, h.logger)
}

// SupplyChainHandler serves /supplychain and /redteam
type SupplyChainHandler struct {
	tools  *supplychain.Tools
	logger *zap.Logger
}

// NewSupplyChainHandler creates a new SupplyChainHandler
func NewSupplyChainHandler(tools *supplychain.Tools, logger *zap.Logger) *SupplyChainHandler {
	return &SupplyChainHandler{tools: tools, logger: logger}
}

// HandleScore handles POST /supplychain/score
func (h *SupplyChainHandler) HandleScore(w http.ResponseWriter, r *http.Request) {
	var req supplychain.ScoreRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	writeOK(w, r, supplychain.Evaluate(req), h.logger)
}

// HandleVerifyBlob handles POST /supplychain/verify-blob
func (h *SupplyChainHandler) HandleVerifyBlob(w http.ResponseWriter, r *http.Request) {
	var req supplychain.VerifyBlobRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	writeOK(w, r, h.tools.VerifyBlob(r.Context(), req), h.logger)
}

// HandleVerifyAttestation handles POST /supplychain/verify-attestation
func (h *SupplyChainHandler) HandleVerifyAttestation(w http.ResponseWriter, r *http.Request) {
	var req supplychain.VerifyAttestationRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	writeOK(w, r, h.tools.VerifyAttestation(r.Context(), req), h.logger)
}

// HandleSignBlob handles POST /supplychain/sign-blob
func (h *SupplyChainHandler) HandleSignBlob(w http.ResponseWriter, r *http.Request) {
	var req supplychain.SignBlobRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	writeOK(w, r, h.tools.SignBlob(r.Context(), req), h.logger)
}

// HandleRekor handles POST /supplychain/rekor
func (h *SupplyChainHandler) HandleRekor(w http.ResponseWriter, r *http.Request) {
	var req supplychain.RekorRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	writeOK(w, r, h.tools.RekorInclusion(r.Context(), req), h.logger)
}

// HandleScan handles POST /redteam/scan
func (h *SupplyChainHandler) HandleScan(w http.ResponseWriter, r *http.Request) {
	var req redteam.ScanRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	res := redteam.Scan(req.Text)
	if res.RiskScore > 0 {
		h.logger.Info("red team scan matched",
			zap.Float64("risk_score", res.RiskScore),
			zap.Strings("matches", res.Matches))
	}
	writeOK(w, r, res, h.logger)
}

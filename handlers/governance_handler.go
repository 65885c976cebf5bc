package handlers

import (
	"net/http"

	"github.com/avaprime/spooky-logic/middleware"
	"github.com/avaprime/spooky-logic/models"
	"github.com/avaprime/spooky-logic/services/governance"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// GovernanceHandler serves /governance
type GovernanceHandler struct {
	service *governance.Service
	logger  *zap.Logger
}

// NewGovernanceHandler creates a new GovernanceHandler
func NewGovernanceHandler(service *governance.Service, logger *zap.Logger) *GovernanceHandler {
	return &GovernanceHandler{service: service, logger: logger}
}

// HandlePropose handles POST /governance/propose. The tenant defaults to
// the caller's tenant; an authenticated caller is always the proposer.
func (h *GovernanceHandler) HandlePropose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := governance.ProposeRequest{Tenant: middleware.GetTenantFromContext(ctx)}
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		req.Proposer = claims.Subject
	}

	proposal, err := h.service.Propose(ctx, req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeCreated(w, r, proposal, h.logger)
}

// HandleVote handles POST /governance/vote. An authenticated caller votes
// as themselves.
func (h *GovernanceHandler) HandleVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := middleware.GetClaimsFromContext(ctx)

	var req governance.VoteRequest
	if claims != nil {
		req.Voter = claims.Subject
	}
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	if claims != nil {
		req.Voter = claims.Subject
	}

	res, err := h.service.Vote(ctx, req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, res, h.logger)
}

// HandleBoard handles GET /governance/board
func (h *GovernanceHandler) HandleBoard(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, h.service.Board(r.Context()), h.logger)
}

// HandleListProposals handles GET /governance/proposals
func (h *GovernanceHandler) HandleListProposals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ProposalFilter{
		Tenant:       q.Get("tenant"),
		Status:       models.ProposalStatus(q.Get("status")),
		CapabilityID: q.Get("capability_id"),
		Action:       models.ProposalAction(q.Get("action")),
		Voter:        q.Get("voter"),
		Page:         queryInt(r, "page", 1),
		Size:         queryInt(r, "size", 20),
	}
	writeOK(w, r, h.service.ListProposals(r.Context(), filter), h.logger)
}

// HandleGetProposal handles GET /governance/proposals/{id}
func (h *GovernanceHandler) HandleGetProposal(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.GetProposal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, details, h.logger)
}

// HandleExecute handles POST /governance/proposals/{id}/execute[?dry_run=true]
func (h *GovernanceHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executor := "system"
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		executor = claims.Subject
	}

	res, err := h.service.Execute(ctx, chi.URLParam(r, "id"), executor, r.URL.Query().Get("dry_run") == "true")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, res, h.logger)
}

// HandleSnapshot handles GET /governance/sync/snapshot
func (h *GovernanceHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, h.service.Snapshot(), h.logger)
}

// HandleMerge handles POST /governance/sync/merge. The merged snapshot is
// returned so the peer can converge in one round trip.
func (h *GovernanceHandler) HandleMerge(w http.ResponseWriter, r *http.Request) {
	var snap governance.Snapshot
	if !decodeRequest(w, r, &snap, h.logger) {
		return
	}

	merged, changed, err := h.service.Merge(r.Context(), snap)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, map[string]interface{}{"changed": changed, "snapshot": merged}, h.logger)
}

package handlers

import (
	"net/http"

	"github.com/avaprime/spooky-logic/services/tenants"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// TenantsHandler serves /tenants
type TenantsHandler struct {
	registry *tenants.Registry
	logger   *zap.Logger
}

// NewTenantsHandler creates a new TenantsHandler
func NewTenantsHandler(registry *tenants.Registry, logger *zap.Logger) *TenantsHandler {
	return &TenantsHandler{registry: registry, logger: logger}
}

// HandleRegister handles POST /tenants
func (h *TenantsHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req tenants.RegisterRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	res, err := h.registry.Register(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeCreated(w, r, res, h.logger)
}

// HandleList handles GET /tenants
func (h *TenantsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list := h.registry.List()
	writeOK(w, r, map[string]interface{}{"tenants": list, "total": len(list)}, h.logger)
}

// HandleGet handles GET /tenants/{id}
func (h *TenantsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, map[string]interface{}{
		"tenant":  c.State(),
		"config":  c.Config(),
		"summary": c.Summarize(),
	}, h.logger)
}

// HandleResult handles POST /tenants/{id}/results
func (h *TenantsHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	var req tenants.ResultRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	summary, err := h.registry.RecordResult(chi.URLParam(r, "id"), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, summary, h.logger)
}

// HandlePromote handles POST /tenants/{id}/promote
func (h *TenantsHandler) HandlePromote(w http.ResponseWriter, r *http.Request) {
	promotion, err := h.registry.Promote(chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, promotion, h.logger)
}

package handlers

import (
	"net/http"
	"time"

	"github.com/avaprime/spooky-logic/services/absorption"
	"github.com/avaprime/spooky-logic/services/capabilities"
	"github.com/avaprime/spooky-logic/utils"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CapabilitiesHandler serves /capabilities: bundle verification, the
// quarantine lifecycle and canary/shadow invocation
type CapabilitiesHandler struct {
	service *capabilities.Service
	canary  *capabilities.CanaryController
	shadow  *capabilities.ShadowTrialRunner
	logger  *zap.Logger
}

// NewCapabilitiesHandler creates a new CapabilitiesHandler
func NewCapabilitiesHandler(service *capabilities.Service, canary *capabilities.CanaryController, shadow *capabilities.ShadowTrialRunner, logger *zap.Logger) *CapabilitiesHandler {
	return &CapabilitiesHandler{service: service, canary: canary, shadow: shadow, logger: logger}
}

// HandleVerify handles POST /capabilities/verify
func (h *CapabilitiesHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req capabilities.VerifyRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	writeOK(w, r, h.service.Verify(r.Context(), req), h.logger)
}

// HandleQuarantine handles POST /capabilities/quarantine
func (h *CapabilitiesHandler) HandleQuarantine(w http.ResponseWriter, r *http.Request) {
	var req capabilities.QuarantineRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	writeCreated(w, r, h.service.Add(r.Context(), req), h.logger)
}

// HandleList handles GET /capabilities/quarantine/list
func (h *CapabilitiesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list := h.service.List(r.Context())
	writeOK(w, r, map[string]interface{}{"quarantined": list, "total": len(list)}, h.logger)
}

// HandleReady handles POST /capabilities/quarantine/ready
func (h *CapabilitiesHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	var req capabilities.ReadyRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	res, err := h.service.Ready(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, res, h.logger)
}

// HandleReport handles POST /capabilities/quarantine/report
func (h *CapabilitiesHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	var req capabilities.ReportRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	q, err := h.service.Report(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, q, h.logger)
}

// HandleRemove handles DELETE /capabilities/quarantine/{id}
func (h *CapabilitiesHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	q, err := h.service.Remove(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, map[string]interface{}{"removed": q.CapabilityID}, h.logger)
}

// HandlePromote handles POST /capabilities/quarantine/{id}/promote
func (h *CapabilitiesHandler) HandlePromote(w http.ResponseWriter, r *http.Request) {
	q, err := h.service.Promote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, map[string]interface{}{"promoted": q.CapabilityID, "stats": q.Stats}, h.logger)
}

// HandleCanary handles POST /capabilities/{id}/canary. The body is passed
// to the capability when the canary is sampled.
func (h *CapabilitiesHandler) HandleCanary(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	res := h.canary.MaybeRoute(r.Context(), chi.URLParam(r, "id"), payload)
	if res == nil {
		res = &capabilities.CanaryResult{Canary: false}
	}
	writeOK(w, r, res, h.logger)
}

// ShadowRequest runs a candidate capability next to a goal
type ShadowRequest struct {
	Goal       string  `json:"goal" validate:"required,max=1000"`
	SampleRate float64 `json:"sample_rate,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// HandleShadow handles POST /capabilities/{id}/shadow
func (h *CapabilitiesHandler) HandleShadow(w http.ResponseWriter, r *http.Request) {
	var req ShadowRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	rate := req.SampleRate
	if rate == 0 {
		rate = 0.1
	}
	writeOK(w, r, h.shadow.Shadow(r.Context(), chi.URLParam(r, "id"), req.Goal, rate), h.logger)
}

// AbsorptionHandler serves /absorption
type AbsorptionHandler struct {
	engine *absorption.Engine
	logger *zap.Logger
}

// NewAbsorptionHandler creates a new AbsorptionHandler
func NewAbsorptionHandler(engine *absorption.Engine, logger *zap.Logger) *AbsorptionHandler {
	return &AbsorptionHandler{engine: engine, logger: logger}
}

// HandleAdd handles POST /absorption/capabilities
func (h *AbsorptionHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var spec absorption.Spec
	if !decodeRequest(w, r, &spec, h.logger) {
		return
	}
	added, err := h.engine.AddCapability(r.Context(), spec)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeCreated(w, r, added, h.logger)
}

// HandleTest handles POST /absorption/capabilities/{id}/test
func (h *AbsorptionHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.TestCapability(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, res, h.logger)
}

// HandleIntegrate handles POST /absorption/capabilities/{id}/integrate.
// With ?evaluate=true the trial is evaluated instead of forced.
func (h *AbsorptionHandler) HandleIntegrate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if r.URL.Query().Get("evaluate") == "true" {
		status, err := h.engine.Evaluate(r.Context(), id, time.Now())
		if err != nil {
			HandleServiceError(w, err, h.logger)
			return
		}
		writeOK(w, r, map[string]interface{}{"capability_id": id, "status": status}, h.logger)
		return
	}

	spec, err := h.engine.ForceIntegrate(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, spec, h.logger)
}

// HandleRemove handles DELETE /absorption/capabilities/{id}
func (h *AbsorptionHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.Remove(id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, map[string]interface{}{"removed": id}, h.logger)
}

// HandleStatus handles GET /absorption/status
func (h *AbsorptionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, h.engine.Status(), h.logger)
}

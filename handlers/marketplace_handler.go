package handlers

import (
	"net/http"

	"github.com/avaprime/spooky-logic/services/marketplace"
	"github.com/avaprime/spooky-logic/utils"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// MarketplaceHandler serves /marketplace
type MarketplaceHandler struct {
	service *marketplace.Service
	logger  *zap.Logger
}

// NewMarketplaceHandler creates a new MarketplaceHandler
func NewMarketplaceHandler(service *marketplace.Service, logger *zap.Logger) *MarketplaceHandler {
	return &MarketplaceHandler{service: service, logger: logger}
}

// HandleList handles GET /marketplace/packages
func (h *MarketplaceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, h.service.List(r.Context()), h.logger)
}

// HandleSearch handles GET /marketplace/search?query&category&author&page&limit
func (h *MarketplaceHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := marketplace.SearchRequest{
		Query:    q.Get("query"),
		Category: q.Get("category"),
		Author:   q.Get("author"),
		Page:     queryInt(r, "page", 1),
		Limit:    queryInt(r, "limit", 20),
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	writeOK(w, r, h.service.Search(r.Context(), req), h.logger)
}

// HandleInstall handles POST /marketplace/install
func (h *MarketplaceHandler) HandleInstall(w http.ResponseWriter, r *http.Request) {
	var req marketplace.InstallRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	res, err := h.service.Install(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, res, h.logger)
}

// HandleStatus handles GET /marketplace/status?installation_id|package_name
func (h *MarketplaceHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := marketplace.StatusRequest{
		InstallationID: q.Get("installation_id"),
		PackageName:    q.Get("package_name"),
	}
	if req.InstallationID == "" && req.PackageName == "" {
		_ = utils.WriteBadRequest(w, "installation_id or package_name is required", nil)
		return
	}
	res, err := h.service.Status(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, res, h.logger)
}

// HandlePublish handles POST /marketplace/publish
func (h *MarketplaceHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	var req marketplace.PublishRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	m, err := h.service.Publish(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeCreated(w, r, m, h.logger)
}

// HandleUnpublish handles DELETE /marketplace/packages/{name}
func (h *MarketplaceHandler) HandleUnpublish(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.service.Unpublish(r.Context(), name); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	writeOK(w, r, map[string]interface{}{"unpublished": name}, h.logger)
}

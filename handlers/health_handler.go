package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/avaprime/spooky-logic/utils"
	"go.uber.org/zap"
)

// Version is reported by /api/v1/status
const Version = "0.3.0"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse describes the running control plane
type StatusResponse struct {
	Version     string                 `json:"version"`
	Environment string                 `json:"environment"`
	NodeID      string                 `json:"node_id"`
	Components  map[string]interface{} `json:"components"`
}

// Pinger is a dependency that can report its reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker verifies the database can serve queries
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db          DatabaseChecker
	opa         Pinger
	environment string
	nodeID      string
	components  func() map[string]interface{}
	logger      *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and opa may be nil.
func NewHealthHandler(db DatabaseChecker, opa Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		opa:    opa,
		logger: logger,
	}
}

// WithStatus sets what /api/v1/status reports
func (h *HealthHandler) WithStatus(environment, nodeID string, components func() map[string]interface{}) *HealthHandler {
	h.environment = environment
	h.nodeID = nodeID
	h.components = components
	return h
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Readiness check - validates that all dependencies are available
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.checkDatabase(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	// policy decisions fail closed, so an unreachable OPA means not ready
	switch {
	case h.opa == nil:
		checks["opa"] = "not_configured"
	case h.opa.Ping(ctx) != nil:
		h.logger.Warn("opa health check failed")
		checks["opa"] = "unhealthy"
		allHealthy = false
	default:
		checks["opa"] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// HandleStatus handles GET /api/v1/status
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{}
	if h.components != nil {
		components = h.components()
	}
	writeOK(w, r, StatusResponse{
		Version:     Version,
		Environment: h.environment,
		NodeID:      h.nodeID,
		Components:  components,
	}, h.logger)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil // No database configured
	}

	return h.db.HealthCheck(ctx)
}

// Package handlers holds the thin HTTP layer: decode and validate the
// request, call the service, map domain errors to status codes.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/avaprime/spooky-logic/middleware"
	"github.com/avaprime/spooky-logic/utils"
	"go.uber.org/zap"
)

// decodeRequest decodes the JSON body into dst and validates it. It writes
// the 400 response itself and returns false when the request is unusable.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) bool {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	if err := utils.DecodeJSON(r, dst); err != nil {
		logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return false
	}

	if err := utils.ValidateStruct(dst); err != nil {
		logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, logger)
		return false
	}
	return true
}

func writeOK(w http.ResponseWriter, r *http.Request, data interface{}, logger *zap.Logger) {
	if err := utils.WriteOK(w, data); err != nil {
		logger.Error("failed to write response",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
	}
}

func writeCreated(w http.ResponseWriter, r *http.Request, data interface{}, logger *zap.Logger) {
	if err := utils.WriteCreated(w, data); err != nil {
		logger.Error("failed to write response",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
	}
}

// queryFloat reads a float query parameter, falling back to def when absent
// or malformed
func queryFloat(r *http.Request, key string, def float64) float64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

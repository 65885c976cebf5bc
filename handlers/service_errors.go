package handlers

import (
	"net/http"

	"github.com/avaprime/spooky-logic/services"
	"github.com/avaprime/spooky-logic/utils"
	"go.uber.org/zap"
)

type errorMapping struct {
	status int
	code   string
	// details are sent for these types only
	withDetails bool
}

// budget denials by policy are policy violations (403); budget exhaustion
// is throttled like rate limiting
var errorMappings = map[services.ErrorType]errorMapping{
	services.ErrorTypeNotFound:        {http.StatusNotFound, "not_found", false},
	services.ErrorTypeValidation:      {http.StatusBadRequest, "bad_request", true},
	services.ErrorTypeUnauthorized:    {http.StatusUnauthorized, "unauthorized", false},
	services.ErrorTypeForbidden:       {http.StatusForbidden, "forbidden", false},
	services.ErrorTypeRateLimit:       {http.StatusTooManyRequests, "rate_limit_exceeded", true},
	services.ErrorTypeBudget:          {http.StatusTooManyRequests, "rate_limit_exceeded", true},
	services.ErrorTypeConflict:        {http.StatusConflict, "conflict", true},
	services.ErrorTypePolicyViolation: {http.StatusForbidden, "forbidden", true},
	services.ErrorTypeExternal:        {http.StatusBadGateway, "bad_gateway", true},
}

// HandleServiceError maps domain errors to HTTP responses. Internal and
// unknown errors are logged and answered with a generic 500.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	errType := services.GetErrorType(err)
	m, ok := errorMappings[errType]
	if !ok {
		if errType == services.ErrorTypeInternal {
			logger.Error("internal server error", zap.Error(err))
		} else {
			logger.Error("unhandled error type", zap.Error(err), zap.String("error_type", string(errType)))
		}
		if werr := utils.WriteInternalServerError(w, "An internal error occurred"); werr != nil {
			logger.Error("failed to write error response", zap.Error(werr))
		}
		return
	}

	resp := utils.ErrorResponse{Error: m.code, Message: err.Error()}
	if m.withDetails {
		resp.Details = services.GetErrorDetails(err)
	}
	if werr := utils.WriteJSON(w, m.status, resp); werr != nil {
		logger.Error("failed to write error response", zap.Int("status", m.status), zap.Error(werr))
		return
	}
	logger.Debug("handled service error",
		zap.String("type", string(errType)),
		zap.Int("status", m.status),
		zap.Error(err))
}

// HandleValidationError answers a request body that failed validation
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	message := err.Error()
	var details map[string]interface{}
	if utils.IsValidationError(err) {
		message = "Validation failed"
		details = make(map[string]interface{})
		for field, msg := range utils.GetValidationFields(err) {
			details[field] = msg
		}
	}
	if werr := utils.WriteBadRequest(w, message, details); werr != nil {
		logger.Error("failed to write validation error response", zap.Error(werr))
	}
}

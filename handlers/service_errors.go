package handlers

import (
	"net/http"

	"github.com/upb/sensor-gateway/middleware"
	"github.com/upb/sensor-gateway/services"
	"github.com/upb/sensor-gateway/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	derr := middleware.WriteServiceError(w, err, 0)

	fields := []zap.Field{
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("code", derr.Code),
		zap.Int("status", derr.Status()),
	}
	if services.IsInternalError(derr) {
		logger.Error("internal server error", append(fields, zap.Error(err))...)
		return
	}
	logger.Debug("handled service error", fields...)
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteError(w, http.StatusBadRequest, services.ErrInvalidInput.Code, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteError(w, http.StatusBadRequest, services.ErrInvalidInput.Code, services.ErrInvalidInput.Message, nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

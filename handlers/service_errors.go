package handlers

import (
	"errors"
	"net/http"

	"github.com/aiclub/website-backend/services"
	"github.com/aiclub/website-backend/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses. The body carries
// the error code and public message only, never the wrapped cause.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	status := http.StatusInternalServerError
	message := "An internal error occurred"

	switch {
	case services.IsNotFoundError(err):
		status = http.StatusNotFound
	case services.IsValidationError(err):
		status = http.StatusBadRequest
	case services.IsUnauthorizedError(err):
		status = http.StatusUnauthorized
	case services.IsForbiddenError(err):
		status = http.StatusForbidden
	case services.IsConflictError(err):
		status = http.StatusConflict
	case services.IsExternalError(err):
		status = http.StatusBadGateway
		logger.Warn("external dependency failed", zap.Error(err))
	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		message = "An unexpected error occurred"
	}

	var domainErr *services.DomainError
	if status != http.StatusInternalServerError && errors.As(err, &domainErr) {
		message = domainErr.Message
	}

	var details map[string]interface{}
	if status != http.StatusInternalServerError {
		details = make(map[string]interface{})
		for k, v := range services.GetErrorDetails(err) {
			details[k] = v
		}
		if code := services.GetErrorCode(err); code != "" {
			details["code"] = code
		}
		if len(details) == 0 {
			details = nil
		}
	}

	if werr := utils.WriteError(w, status, message, details); werr != nil {
		logger.Error("failed to write error response", zap.Error(werr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	// Generic validation error
	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

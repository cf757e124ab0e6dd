package api

import (
	"errors"
	"net/http"

	"enrichd/internal/application/common/slogger"
	"enrichd/internal/application/dto"
	"enrichd/internal/domain/entity"
	"enrichd/internal/domain/valueobject"
	"enrichd/internal/port/outbound"
)

// ErrorHandler maps service errors onto HTTP responses.
type ErrorHandler interface {
	HandleServiceError(w http.ResponseWriter, r *http.Request, err error)
}

// DefaultErrorHandler implements ErrorHandler with the status mapping the
// submission contract requires: saturation is 429, expiry is 410, a missing
// job is 404 and validation failures are 400.
type DefaultErrorHandler struct{}

// NewDefaultErrorHandler creates the standard error handler.
func NewDefaultErrorHandler() ErrorHandler {
	return &DefaultErrorHandler{}
}

// HandleServiceError writes the error response for err.
func (h *DefaultErrorHandler) HandleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, response := classifyError(err)

	if status >= http.StatusInternalServerError {
		slogger.Error(r.Context(), "Request failed", slogger.Fields{
			"error":  err.Error(),
			"path":   r.URL.Path,
			"status": status,
		})
	} else {
		slogger.Debug(r.Context(), "Request rejected", slogger.Fields{
			"error":  err.Error(),
			"path":   r.URL.Path,
			"status": status,
		})
	}

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	if writeErr := WriteJSON(w, status, response); writeErr != nil {
		slogger.Error(r.Context(), "Failed to write error response", slogger.Fields{
			"error": writeErr.Error(),
		})
	}
}

func classifyError(err error) (int, dto.ErrorResponse) {
	var domainErr *entity.DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Category() {
		case valueobject.ErrorCategoryValidation:
			return http.StatusBadRequest, dto.ErrorResponse{
				Error:   dto.ErrorCodeInvalidRequest,
				Message: domainErr.Message(),
			}
		case valueobject.ErrorCategoryQueueSaturated:
			return http.StatusTooManyRequests, dto.ErrorResponse{
				Error:   dto.ErrorCodeQueueSaturated,
				Message: domainErr.Message(),
			}
		}
	}

	switch {
	case errors.Is(err, outbound.ErrJobNotFound):
		return http.StatusNotFound, dto.ErrorResponse{
			Error:   dto.ErrorCodeJobNotFound,
			Message: "job not found",
		}
	case errors.Is(err, outbound.ErrJobExpired):
		return http.StatusGone, dto.ErrorResponse{
			Error:   dto.ErrorCodeJobExpired,
			Message: "job has passed its retention period",
		}
	case errors.Is(err, outbound.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:   dto.ErrorCodeStoreUnavailable,
			Message: "job store is unavailable",
		}
	}

	return http.StatusInternalServerError, dto.ErrorResponse{
		Error:   dto.ErrorCodeInternalError,
		Message: "An internal error occurred",
	}
}

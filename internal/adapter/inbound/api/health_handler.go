package api

import (
	"net/http"

	"enrichd/internal/application/dto"
	"enrichd/internal/port/inbound"
)

// HealthHandler handles health and worker introspection endpoints.
type HealthHandler struct {
	healthService inbound.HealthService
	workerService inbound.WorkerService
	errorHandler  ErrorHandler
}

// NewHealthHandler creates a new HealthHandler. workerService may be nil
// when the process does not run workers.
func NewHealthHandler(
	healthService inbound.HealthService,
	workerService inbound.WorkerService,
	errorHandler ErrorHandler,
) *HealthHandler {
	return &HealthHandler{
		healthService: healthService,
		workerService: workerService,
		errorHandler:  errorHandler,
	}
}

// GetHealth handles GET /health.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response, err := h.healthService.GetHealth(r.Context())
	if err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
		return
	}

	statusCode := http.StatusOK
	if response.Status == string(dto.HealthStatusUnhealthy) {
		statusCode = http.StatusServiceUnavailable
	}
	_ = WriteJSON(w, statusCode, response)
}

// GetWorkerHealth handles GET /workers/health.
func (h *HealthHandler) GetWorkerHealth(w http.ResponseWriter, r *http.Request) {
	if h.workerService == nil {
		_ = WriteJSON(w, http.StatusNotFound, dto.ErrorResponse{
			Error:   dto.ErrorCodeInvalidRequest,
			Message: "no worker pool in this process",
		})
		return
	}
	_ = WriteJSON(w, http.StatusOK, h.workerService.Health())
}

// GetWorkerMetrics handles GET /workers/metrics.
func (h *HealthHandler) GetWorkerMetrics(w http.ResponseWriter, r *http.Request) {
	if h.workerService == nil {
		_ = WriteJSON(w, http.StatusNotFound, dto.ErrorResponse{
			Error:   dto.ErrorCodeInvalidRequest,
			Message: "no worker pool in this process",
		})
		return
	}
	_ = WriteJSON(w, http.StatusOK, h.workerService.Metrics())
}

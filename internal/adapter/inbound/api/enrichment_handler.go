package api

import (
	"encoding/json"
	"net/http"

	"enrichd/internal/application/dto"
	"enrichd/internal/port/inbound"

	"github.com/google/uuid"
)

// EnrichmentHandler serves the job submission and status endpoints.
type EnrichmentHandler struct {
	service      inbound.EnrichmentService
	errorHandler ErrorHandler
}

// NewEnrichmentHandler creates the handler.
func NewEnrichmentHandler(service inbound.EnrichmentService, errorHandler ErrorHandler) *EnrichmentHandler {
	return &EnrichmentHandler{service: service, errorHandler: errorHandler}
}

// SubmitJob handles POST /jobs.
func (h *EnrichmentHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var request dto.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeBadRequest(w, "request body must be valid JSON")
		return
	}

	response, err := h.service.SubmitJob(r.Context(), request)
	if err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
		return
	}

	// A dedup hit returns the existing job rather than creating one.
	status := http.StatusAccepted
	if response.CacheHit {
		status = http.StatusOK
	}
	if response.Job != nil {
		// Synchronous submissions return the terminal record directly.
		status = http.StatusOK
	}
	_ = WriteJSON(w, status, response)
}

// GetJob handles GET /jobs/{id}.
func (h *EnrichmentHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeBadRequest(w, "job ID must be a valid UUID")
		return
	}

	response, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, response)
}

// ListTenantJobs handles GET /tenants/{tenant_id}/jobs.
func (h *EnrichmentHandler) ListTenantJobs(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")

	response, err := h.service.ListTenantJobs(r.Context(), tenantID)
	if err != nil {
		h.errorHandler.HandleServiceError(w, r, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, response)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	_ = WriteJSON(w, http.StatusBadRequest, dto.ErrorResponse{
		Error:   dto.ErrorCodeInvalidRequest,
		Message: message,
	})
}

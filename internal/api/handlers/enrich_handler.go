package handlers

import (
	"context"
	"net/http"

	"github.com/callinsights/hub/internal/api/response"
	"github.com/callinsights/hub/internal/models"
	"github.com/callinsights/hub/internal/service"
)

// Enricher accepts enrichment requests.
type Enricher interface {
	Enrich(ctx context.Context, caller string, req models.EnrichRequest) (*models.EnrichResult, error)
}

// BulkRunner enriches many calls in one request.
type BulkRunner interface {
	Run(ctx context.Context, caller string, req service.BulkRequest) *service.BulkResult
}

// EnrichRequest is the body for POST /v1/calls/{id}/enrich.
type EnrichRequest struct {
	JobType         models.JobType     `json:"job_type" validate:"required,oneof=transcription insights embedding"`
	ContentType     models.ContentType `json:"content_type,omitempty" validate:"omitempty,content_type"`
	ForceRegenerate bool               `json:"force_regenerate"`
}

// EnrichHandler handles enrichment requests.
type EnrichHandler struct {
	enricher Enricher
	bulk     BulkRunner
}

// NewEnrichHandler creates a new enrich handler. bulk may be nil, in which case Bulk answers 503.
func NewEnrichHandler(enricher Enricher, bulk BulkRunner) *EnrichHandler {
	return &EnrichHandler{enricher: enricher, bulk: bulk}
}

// Enrich handles POST /v1/calls/{id}/enrich
// @Summary Request enrichment of a call
// @Description Returns 202 with a pending job, or 200 with a completed cached job when the
// @Description content hash matches the stored artifact.
// @Tags Enrichment
// @Accept json
// @Produce json
// @Param id path string true "Call ID (UUID)"
// @Param request body EnrichRequest true "Enrichment to run"
// @Success 200 {object} models.EnrichResult "Served from cache"
// @Success 202 {object} models.EnrichResult "Job accepted"
// @Failure 409 {object} response.ProblemDetails "A job of this type is already active; see active_job_id"
// @Failure 422 {object} response.ProblemDetails "Nothing to enrich"
// @Security BearerAuth
// @Router /v1/calls/{id}/enrich [post]
func (h *EnrichHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	callID, ok := pathUUID(w, r, "id", "Call")
	if !ok {
		return
	}

	var req EnrichRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.enricher.Enrich(r.Context(), caller, models.EnrichRequest{
		CallID:          callID,
		JobType:         req.JobType,
		ContentType:     req.ContentType,
		ForceRegenerate: req.ForceRegenerate,
	})
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	status := http.StatusAccepted
	if result.Cached {
		status = http.StatusOK
	}

	response.RespondJSON(w, status, result)
}

// Bulk handles POST /v1/enrichments/bulk. Per-call failures are reported in the body; the
// request itself succeeds once the batch is validated.
func (h *EnrichHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	if h.bulk == nil {
		response.RespondServiceUnavailable(w, "Bulk enrichment is not configured")

		return
	}

	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req service.BulkRequest
	if !decodeBody(w, r, &req) {
		return
	}

	response.RespondJSON(w, http.StatusOK, h.bulk.Run(r.Context(), caller, req))
}

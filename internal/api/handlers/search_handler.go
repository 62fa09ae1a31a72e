package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/api/response"
	"github.com/callinsights/hub/internal/api/validation"
	"github.com/callinsights/hub/internal/service"
)

// SearchService defines semantic search over embedded calls.
type SearchService interface {
	Search(ctx context.Context, caller string, req service.SearchRequest) (*service.SearchResponse, error)
	SimilarCalls(ctx context.Context, caller string, callID uuid.UUID, req service.SearchRequest) (*service.SearchResponse, error)
}

// SimilarQuery holds the query parameters of GET /v1/calls/{id}/similar.
type SimilarQuery struct {
	Limit     int      `form:"limit" validate:"gte=0"`
	Threshold *float64 `form:"threshold" validate:"omitempty,gte=-1,lte=1"`
}

// SearchHandler handles HTTP requests for semantic search and similar calls.
type SearchHandler struct {
	service SearchService
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(service SearchService) *SearchHandler {
	return &SearchHandler{service: service}
}

// Search handles POST /v1/search
// @Summary Semantic search over calls
// @Tags Search
// @Accept json
// @Produce json
// @Param request body service.SearchRequest true "Query, filters, limit and threshold"
// @Success 200 {object} service.SearchResponse
// @Failure 400 {object} response.ProblemDetails
// @Failure 503 {object} response.ProblemDetails "Embedding provider unavailable"
// @Security BearerAuth
// @Router /v1/search [post]
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req service.SearchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.service.Search(r.Context(), caller, req)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, res)
}

// SimilarCalls handles GET /v1/calls/{id}/similar.
func (h *SearchHandler) SimilarCalls(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	callID, ok := pathUUID(w, r, "id", "Call")
	if !ok {
		return
	}

	var q SimilarQuery
	if err := validation.ValidateAndDecodeQueryParams(r, &q); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	res, err := h.service.SimilarCalls(r.Context(), caller, callID, service.SearchRequest{
		Limit:     q.Limit,
		Threshold: q.Threshold,
	})
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, res)
}

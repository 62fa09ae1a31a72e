package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/api/response"
	"github.com/callinsights/hub/internal/models"
)

// CallsService defines the call operations exposed over HTTP.
type CallsService interface {
	CreateCall(ctx context.Context, ownerID string, req *models.CreateCallRequest) (*models.Call, error)
	GetCall(ctx context.Context, caller string, id uuid.UUID) (*models.Call, error)
	EditTranscript(ctx context.Context, caller string, id uuid.UUID, transcript string) (*models.Call, error)
}

// CallsHandler handles HTTP requests for calls.
type CallsHandler struct {
	service CallsService
}

// NewCallsHandler creates a new calls handler.
func NewCallsHandler(service CallsService) *CallsHandler {
	return &CallsHandler{service: service}
}

// Create handles POST /v1/calls
// @Summary Register a call
// @Tags Calls
// @Accept json
// @Produce json
// @Param request body models.CreateCallRequest true "Call to register"
// @Success 201 {object} models.Call
// @Failure 400 {object} response.ProblemDetails
// @Failure 401 {object} response.ProblemDetails "Unauthorized - Invalid or missing API key"
// @Security BearerAuth
// @Router /v1/calls [post]
func (h *CallsHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req models.CreateCallRequest
	if !decodeBody(w, r, &req) {
		return
	}

	call, err := h.service.CreateCall(r.Context(), caller, &req)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusCreated, call)
}

// Get handles GET /v1/calls/{id}
// @Summary Get a call by ID
// @Tags Calls
// @Produce json
// @Param id path string true "Call ID (UUID)"
// @Success 200 {object} models.Call
// @Failure 403 {object} response.ProblemDetails "Call belongs to another owner"
// @Failure 404 {object} response.ProblemDetails "Call not found"
// @Security BearerAuth
// @Router /v1/calls/{id} [get]
func (h *CallsHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, r, "id", "Call")
	if !ok {
		return
	}

	call, err := h.service.GetCall(r.Context(), caller, id)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, call)
}

// EditTranscript handles PATCH /v1/calls/{id}/transcript. The edit bumps the call's edit
// counter and changes the transcript hash, so the next enrichment regenerates.
func (h *CallsHandler) EditTranscript(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, r, "id", "Call")
	if !ok {
		return
	}

	var req models.EditTranscriptRequest
	if !decodeBody(w, r, &req) {
		return
	}

	call, err := h.service.EditTranscript(r.Context(), caller, id, req.Transcript)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, call)
}

package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/api/response"
	"github.com/callinsights/hub/internal/models"
)

// QAService scores calls against weighted criteria.
type QAService interface {
	Score(criteria []models.QACriterionScore) models.QAScoreResult
	ScoreCall(ctx context.Context, caller string, callID uuid.UUID) (*models.QAScoreResult, error)
}

// QAScoreRequest is the body for POST /v1/qa/score.
type QAScoreRequest struct {
	Criteria []models.QACriterionScore `json:"criteria" validate:"required,min=1,max=500,dive"`
}

// QAHandler handles QA scoring requests.
type QAHandler struct {
	service QAService
}

// NewQAHandler creates a new QA handler.
func NewQAHandler(service QAService) *QAHandler {
	return &QAHandler{service: service}
}

// Score handles POST /v1/qa/score.
func (h *QAHandler) Score(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerFrom(w, r); !ok {
		return
	}

	var req QAScoreRequest
	if !decodeBody(w, r, &req) {
		return
	}

	response.RespondJSON(w, http.StatusOK, h.service.Score(req.Criteria))
}

// ScoreCall handles GET /v1/calls/{id}/qa using the criteria from the call's latest insights.
func (h *QAHandler) ScoreCall(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	callID, ok := pathUUID(w, r, "id", "Call")
	if !ok {
		return
	}

	result, err := h.service.ScoreCall(r.Context(), caller, callID)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}

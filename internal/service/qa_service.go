package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
	"github.com/callinsights/hub/internal/qa"
)

// QAService scores calls against their QA criteria. Scores are always recomputed, never stored.
type QAService struct {
	aggregator *qa.Aggregator
	calls      CallStore
	entries    EnrichmentCache
}

// NewQAService creates a QAService.
func NewQAService(aggregator *qa.Aggregator, calls CallStore, entries EnrichmentCache) *QAService {
	return &QAService{aggregator: aggregator, calls: calls, entries: entries}
}

// Score aggregates criteria supplied by the caller.
func (s *QAService) Score(criteria []models.QACriterionScore) models.QAScoreResult {
	return s.aggregator.Score(criteria)
}

// ScoreCall aggregates the QA criteria from the call's latest insights.
// Returns EntityNotFoundError when the call has no insights yet.
func (s *QAService) ScoreCall(ctx context.Context, caller string, callID uuid.UUID) (*models.QAScoreResult, error) {
	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}

	if call.OwnerID != caller {
		return nil, huberrors.NewAccessDeniedError("call", callID.String())
	}

	entry, err := s.entries.Latest(ctx, callID, models.ContentTypeTranscriptForInsights)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, huberrors.NewEntityNotFoundError("insights", callID.String())
		}

		return nil, fmt.Errorf("load insights: %w", err)
	}

	var insights models.CallInsights
	if err := json.Unmarshal(entry.Artifact, &insights); err != nil {
		return nil, fmt.Errorf("decode insights: %w", err)
	}

	result := s.aggregator.Score(insights.QACriteria)

	return &result, nil
}

package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
)

// CallsService handles call business logic. Audio storage stays external; calls reference it.
type CallsService struct {
	calls CallStore
}

// NewCallsService creates a new calls service.
func NewCallsService(calls CallStore) *CallsService {
	return &CallsService{calls: calls}
}

// CreateCall registers a call owned by ownerID. A call created with a transcript counts as
// already transcribed.
func (s *CallsService) CreateCall(ctx context.Context, ownerID string, req *models.CreateCallRequest) (*models.Call, error) {
	if ownerID == "" {
		return nil, huberrors.NewValidationError("owner_id", "owner is required")
	}

	call, err := s.calls.Create(ctx, ownerID, req)
	if err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}

	return call, nil
}

// GetCall returns a call owned by caller.
func (s *CallsService) GetCall(ctx context.Context, caller string, id uuid.UUID) (*models.Call, error) {
	call, err := s.calls.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if call.OwnerID != caller {
		return nil, huberrors.NewAccessDeniedError("call", id.String())
	}

	return call, nil
}

// EditTranscript replaces the transcript through the explicit edit path, incrementing the edit
// counter. The new text hashes differently, so the next enrich for it is a cache miss.
func (s *CallsService) EditTranscript(ctx context.Context, caller string, id uuid.UUID, transcript string) (*models.Call, error) {
	if _, err := s.GetCall(ctx, caller, id); err != nil {
		return nil, err
	}

	call, err := s.calls.UpdateTranscript(ctx, id, transcript)
	if err != nil {
		return nil, fmt.Errorf("edit transcript: %w", err)
	}

	return call, nil
}

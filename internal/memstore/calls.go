package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
)

// Calls is an in-memory call store.
type Calls struct {
	mu    sync.RWMutex
	calls map[uuid.UUID]models.Call
}

// NewCalls creates an empty call store.
func NewCalls() *Calls {
	return &Calls{calls: make(map[uuid.UUID]models.Call)}
}

// Create registers a call.
func (s *Calls) Create(_ context.Context, ownerID string, req *models.CreateCallRequest) (*models.Call, error) {
	ts := now()
	call := models.Call{
		ID:                  uuid.Must(uuid.NewV7()),
		OwnerID:             ownerID,
		Title:               req.Title,
		AudioURL:            req.AudioURL,
		TranscriptionStatus: models.TranscriptionStatusNone,
		DurationSeconds:     req.DurationSeconds,
		CalledAt:            req.CalledAt,
		Language:            req.Language,
		CreatedAt:           ts,
		UpdatedAt:           ts,
	}

	if req.Transcript != nil {
		call.Transcript = *req.Transcript
		call.TranscriptionStatus = models.TranscriptionStatusCompleted
	}

	s.mu.Lock()
	s.calls[call.ID] = call
	s.mu.Unlock()

	return &call, nil
}

// GetByID returns a copy of the call.
func (s *Calls) GetByID(_ context.Context, id uuid.UUID) (*models.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	call, ok := s.calls[id]
	if !ok {
		return nil, huberrors.NewEntityNotFoundError("call", id.String())
	}

	return &call, nil
}

// UpdateTranscript replaces the transcript and increments the edit counter.
func (s *Calls) UpdateTranscript(_ context.Context, id uuid.UUID, transcript string) (*models.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[id]
	if !ok {
		return nil, huberrors.NewEntityNotFoundError("call", id.String())
	}

	call.Transcript = transcript
	call.EditCount++
	call.UpdatedAt = now()
	s.calls[id] = call

	return &call, nil
}

// CompleteTranscription stores a generated transcript unless the call's transcription is
// already completed. It reports whether the transcript was applied.
func (s *Calls) CompleteTranscription(_ context.Context, id uuid.UUID, t models.Transcription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[id]
	if !ok {
		return false, huberrors.NewEntityNotFoundError("call", id.String())
	}

	if call.TranscriptionStatus == models.TranscriptionStatusCompleted {
		return false, nil
	}

	call.Transcript = t.Text
	call.TranscriptionStatus = models.TranscriptionStatusCompleted

	if t.Language != "" && call.Language == nil {
		lang := t.Language
		call.Language = &lang
	}

	if t.DurationSeconds > 0 && call.DurationSeconds == nil {
		secs := int(t.DurationSeconds + 0.5)
		call.DurationSeconds = &secs
	}

	call.UpdatedAt = now()
	s.calls[id] = call

	return true, nil
}

func (s *Calls) ownerOf(id uuid.UUID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	call, ok := s.calls[id]

	return call.OwnerID, ok
}

func (s *Calls) get(id uuid.UUID) (models.Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	call, ok := s.calls[id]

	return call, ok
}

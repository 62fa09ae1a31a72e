package models

import (
	"time"

	"github.com/google/uuid"
)

// TranscriptionStatus tracks whether a call's transcript is final.
type TranscriptionStatus string

// Transcription statuses.
const (
	TranscriptionStatusNone      TranscriptionStatus = "none"
	TranscriptionStatusCompleted TranscriptionStatus = "completed"
)

// Call is the entity being enriched: one recorded call owned by a single user.
// Transcript is immutable once transcription completes, except through an explicit
// edit, which increments EditCount.
type Call struct {
	ID                  uuid.UUID           `json:"id"`
	OwnerID             string              `json:"owner_id"`
	Title               string              `json:"title"`
	AudioURL            *string             `json:"audio_url,omitempty"`
	Transcript          string              `json:"transcript"`
	TranscriptionStatus TranscriptionStatus `json:"transcription_status"`
	EditCount           int                 `json:"edit_count"`
	DurationSeconds     *int                `json:"duration_seconds,omitempty"`
	CalledAt            *time.Time          `json:"called_at,omitempty"`
	Language            *string             `json:"language,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// CreateCallRequest represents the request to register a call.
type CreateCallRequest struct {
	Title           string     `json:"title" validate:"required,min=1,max=255,no_null_bytes"`
	AudioURL        *string    `json:"audio_url,omitempty" validate:"omitempty,url,max=2048"`
	Transcript      *string    `json:"transcript,omitempty" validate:"omitempty,no_null_bytes"`
	DurationSeconds *int       `json:"duration_seconds,omitempty" validate:"omitempty,gte=0"`
	CalledAt        *time.Time `json:"called_at,omitempty"`
	Language        *string    `json:"language,omitempty" validate:"omitempty,max=10,no_null_bytes"`
}

// EditTranscriptRequest replaces a call's transcript text.
type EditTranscriptRequest struct {
	Transcript string `json:"transcript" validate:"required,no_null_bytes"`
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
)

const callColumns = `id, owner_id, title, audio_url, transcript, transcription_status, edit_count,
	duration_seconds, called_at, language, created_at, updated_at`

// CallsRepository handles data access for calls.
type CallsRepository struct {
	db *pgxpool.Pool
}

// NewCallsRepository creates a new calls repository.
func NewCallsRepository(db *pgxpool.Pool) *CallsRepository {
	return &CallsRepository{db: db}
}

func scanCall(row pgx.Row) (*models.Call, error) {
	var call models.Call

	err := row.Scan(
		&call.ID, &call.OwnerID, &call.Title, &call.AudioURL, &call.Transcript, &call.TranscriptionStatus,
		&call.EditCount, &call.DurationSeconds, &call.CalledAt, &call.Language, &call.CreatedAt, &call.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &call, nil
}

// Create inserts a new call. A call created with a transcript is already transcribed.
func (r *CallsRepository) Create(ctx context.Context, ownerID string, req *models.CreateCallRequest) (*models.Call, error) {
	transcript := ""
	status := models.TranscriptionStatusNone

	if req.Transcript != nil {
		transcript = *req.Transcript
		status = models.TranscriptionStatusCompleted
	}

	query := `
		INSERT INTO calls (id, owner_id, title, audio_url, transcript, transcription_status,
			duration_seconds, called_at, language)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + callColumns

	call, err := scanCall(r.db.QueryRow(ctx, query,
		uuid.Must(uuid.NewV7()), ownerID, req.Title, req.AudioURL, transcript, status,
		req.DurationSeconds, req.CalledAt, req.Language,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create call: %w", err)
	}

	return call, nil
}

// GetByID retrieves a single call by ID.
func (r *CallsRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Call, error) {
	call, err := scanCall(r.db.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewEntityNotFoundError("call", id.String())
		}

		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	return call, nil
}

// UpdateTranscript replaces the transcript and increments edit_count.
func (r *CallsRepository) UpdateTranscript(ctx context.Context, id uuid.UUID, transcript string) (*models.Call, error) {
	query := `
		UPDATE calls
		SET transcript = $2, edit_count = edit_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING ` + callColumns

	call, err := scanCall(r.db.QueryRow(ctx, query, id, transcript))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewEntityNotFoundError("call", id.String())
		}

		return nil, fmt.Errorf("failed to update transcript: %w", err)
	}

	return call, nil
}

// CompleteTranscription stores a generated transcript and reports whether it was applied. A call
// whose transcription is already completed keeps its transcript; after that only UpdateTranscript
// changes the text. Language and duration are only filled in when the call does not have them yet.
func (r *CallsRepository) CompleteTranscription(ctx context.Context, id uuid.UUID, t models.Transcription) (bool, error) {
	var (
		language *string
		duration *int
	)

	if t.Language != "" {
		language = &t.Language
	}

	if t.DurationSeconds > 0 {
		secs := int(math.Round(t.DurationSeconds))
		duration = &secs
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE calls
		SET transcript = $2,
			transcription_status = 'completed',
			language = COALESCE(language, $3),
			duration_seconds = COALESCE(duration_seconds, $4),
			updated_at = now()
		WHERE id = $1 AND transcription_status <> 'completed'`,
		id, t.Text, language, duration,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete transcription: %w", err)
	}

	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM calls WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check call: %w", err)
	}

	if !exists {
		return false, huberrors.NewEntityNotFoundError("call", id.String())
	}

	return false, nil
}

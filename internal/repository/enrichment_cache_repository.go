package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
)

// previewLength is the number of transcript characters returned with search candidates.
const previewLength = 200

const cacheColumns = `call_id, content_type, model, model_version, content_hash, artifact, embedding,
	sentiment, outcome, has_red_flags, has_action_items, duration_seconds, called_at, language,
	prompt_tokens, completion_tokens, cost_usd, generated_at`

// EnrichmentCacheRepository stores the latest artifact per (call, content type) in
// enrichment_cache and appends usage rows to enrichment_usage. Embeddings use halfvec storage
// (2 bytes per dimension); pgvector-go converts float32 to float16 when encoding.
type EnrichmentCacheRepository struct {
	db *pgxpool.Pool
}

// NewEnrichmentCacheRepository creates a new enrichment cache repository.
func NewEnrichmentCacheRepository(db *pgxpool.Pool) *EnrichmentCacheRepository {
	return &EnrichmentCacheRepository{db: db}
}

func scanCacheEntry(row pgx.Row) (*models.CacheEntry, error) {
	var (
		entry    models.CacheEntry
		artifact []byte
		vec      *pgvector.HalfVector
		md       models.EmbeddingMetadata
	)

	err := row.Scan(
		&entry.CallID, &entry.ContentType, &entry.Model, &entry.ModelVersion, &entry.ContentHash, &artifact, &vec,
		&md.Sentiment, &md.Outcome, &md.HasRedFlags, &md.HasActionItems, &md.DurationSeconds, &md.CalledAt, &md.Language,
		&entry.Usage.PromptTokens, &entry.Usage.CompletionTokens, &entry.Usage.CostUSD, &entry.GeneratedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Artifact = artifact

	if vec != nil {
		entry.Embedding = vec.Slice()
		entry.Metadata = &md
	}

	return &entry, nil
}

// Lookup returns the entry for (call, content type) only when its content hash equals hash.
func (r *EnrichmentCacheRepository) Lookup(
	ctx context.Context, callID uuid.UUID, contentType models.ContentType, hash string,
) (*models.CacheEntry, error) {
	entry, err := scanCacheEntry(r.db.QueryRow(ctx, `
		SELECT `+cacheColumns+` FROM enrichment_cache
		WHERE call_id = $1 AND content_type = $2 AND content_hash = $3`,
		callID, contentType, hash,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.ErrCacheMiss
		}

		return nil, fmt.Errorf("enrichment cache lookup: %w", err)
	}

	return entry, nil
}

// Latest returns the stored entry regardless of hash.
func (r *EnrichmentCacheRepository) Latest(ctx context.Context, callID uuid.UUID, contentType models.ContentType) (*models.CacheEntry, error) {
	entry, err := scanCacheEntry(r.db.QueryRow(ctx, `
		SELECT `+cacheColumns+` FROM enrichment_cache
		WHERE call_id = $1 AND content_type = $2`,
		callID, contentType,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.ErrCacheMiss
		}

		return nil, fmt.Errorf("enrichment cache latest: %w", err)
	}

	return entry, nil
}

// Upsert replaces the entry for (call, content type) in a single statement, so concurrent
// generations converge to the last writer.
func (r *EnrichmentCacheRepository) Upsert(ctx context.Context, entry *models.CacheEntry) error {
	var (
		vec        *pgvector.HalfVector
		dimensions *int
		md         models.EmbeddingMetadata
	)

	if len(entry.Embedding) > 0 {
		v := pgvector.NewHalfVector(entry.Embedding)
		vec = &v
		n := len(entry.Embedding)
		dimensions = &n
	}

	if entry.Metadata != nil {
		md = *entry.Metadata
	}

	var artifact []byte
	if len(entry.Artifact) > 0 {
		artifact = entry.Artifact
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO enrichment_cache (
			call_id, content_type, model, model_version, content_hash, artifact, embedding, dimensions,
			sentiment, outcome, has_red_flags, has_action_items, duration_seconds, called_at, language,
			prompt_tokens, completion_tokens, cost_usd, generated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (call_id, content_type) DO UPDATE SET
			model = EXCLUDED.model,
			model_version = EXCLUDED.model_version,
			content_hash = EXCLUDED.content_hash,
			artifact = EXCLUDED.artifact,
			embedding = EXCLUDED.embedding,
			dimensions = EXCLUDED.dimensions,
			sentiment = EXCLUDED.sentiment,
			outcome = EXCLUDED.outcome,
			has_red_flags = EXCLUDED.has_red_flags,
			has_action_items = EXCLUDED.has_action_items,
			duration_seconds = EXCLUDED.duration_seconds,
			called_at = EXCLUDED.called_at,
			language = EXCLUDED.language,
			prompt_tokens = EXCLUDED.prompt_tokens,
			completion_tokens = EXCLUDED.completion_tokens,
			cost_usd = EXCLUDED.cost_usd,
			generated_at = EXCLUDED.generated_at`,
		entry.CallID, entry.ContentType, entry.Model, entry.ModelVersion, entry.ContentHash, artifact, vec, dimensions,
		md.Sentiment, md.Outcome, md.HasRedFlags, md.HasActionItems, md.DurationSeconds, md.CalledAt, md.Language,
		entry.Usage.PromptTokens, entry.Usage.CompletionTokens, entry.Usage.CostUSD, entry.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("enrichment cache upsert: %w", err)
	}

	return nil
}

// RefreshInsightsFilters updates the insights-derived filter columns of the call's embedding row.
func (r *EnrichmentCacheRepository) RefreshInsightsFilters(ctx context.Context, callID uuid.UUID, f models.InsightsFilters) error {
	_, err := r.db.Exec(ctx, `
		UPDATE enrichment_cache
		SET sentiment = $3, outcome = $4, has_red_flags = $5, has_action_items = $6
		WHERE call_id = $1 AND content_type = $2`,
		callID, models.ContentTypeTranscriptForEmbedding, f.Sentiment, f.Outcome, f.HasRedFlags, f.HasActionItems,
	)
	if err != nil {
		return fmt.Errorf("enrichment cache refresh filters: %w", err)
	}

	return nil
}

// Invalidate deletes the entry for (call, content type), if any.
func (r *EnrichmentCacheRepository) Invalidate(ctx context.Context, callID uuid.UUID, contentType models.ContentType) error {
	_, err := r.db.Exec(ctx, `DELETE FROM enrichment_cache WHERE call_id = $1 AND content_type = $2`, callID, contentType)
	if err != nil {
		return fmt.Errorf("enrichment cache invalidate: %w", err)
	}

	return nil
}

// RecordCost appends a usage audit row.
func (r *EnrichmentCacheRepository) RecordCost(ctx context.Context, usage models.UsageRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO enrichment_usage (call_id, job_id, job_type, model, token_count, cost_usd, cached, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		usage.CallID, usage.JobID, usage.JobType, usage.Model, usage.TokenCount, usage.CostUSD, usage.Cached, usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record enrichment usage: %w", err)
	}

	return nil
}

// ListCandidates returns ownerID's stored embeddings for model, with filters pushed down to SQL.
func (r *EnrichmentCacheRepository) ListCandidates(
	ctx context.Context, ownerID, model string, filters models.SearchFilters,
) ([]models.EmbeddingRecord, error) {
	query, args := buildCandidatesQuery(ownerID, model, filters)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list search candidates: %w", err)
	}
	defer rows.Close()

	records := []models.EmbeddingRecord{}

	for rows.Next() {
		var (
			rec models.EmbeddingRecord
			vec pgvector.HalfVector
		)

		err := rows.Scan(
			&rec.CallID, &rec.Model, &vec,
			&rec.Metadata.Sentiment, &rec.Metadata.Outcome, &rec.Metadata.HasRedFlags, &rec.Metadata.HasActionItems,
			&rec.Metadata.DurationSeconds, &rec.Metadata.CalledAt, &rec.Metadata.Language, &rec.Preview,
		)
		if err != nil {
			return nil, fmt.Errorf("scan search candidate: %w", err)
		}

		rec.Vector = vec.Slice()
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search candidates: %w", err)
	}

	return records, nil
}

// buildCandidatesQuery builds the candidate SELECT with one condition per set filter.
func buildCandidatesQuery(ownerID, model string, filters models.SearchFilters) (string, []any) {
	conditions := []string{
		"c.owner_id = $1",
		"e.model = $2",
		"e.content_type = $3",
		"e.embedding IS NOT NULL",
	}
	args := []any{ownerID, model, models.ContentTypeTranscriptForEmbedding}

	add := func(format string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(format, len(args)))
	}

	if len(filters.Sentiments) > 0 {
		add("e.sentiment = ANY($%d)", filters.Sentiments)
	}

	if len(filters.Outcomes) > 0 {
		add("e.outcome = ANY($%d)", filters.Outcomes)
	}

	if filters.From != nil {
		add("e.called_at >= $%d", *filters.From)
	}

	if filters.To != nil {
		add("e.called_at <= $%d", *filters.To)
	}

	if filters.MinDuration != nil {
		add("e.duration_seconds >= $%d", *filters.MinDuration)
	}

	if filters.MaxDuration != nil {
		add("e.duration_seconds <= $%d", *filters.MaxDuration)
	}

	if filters.HasRedFlags != nil {
		add("e.has_red_flags = $%d", *filters.HasRedFlags)
	}

	if filters.HasActionItems != nil {
		add("e.has_action_items = $%d", *filters.HasActionItems)
	}

	query := fmt.Sprintf(`
		SELECT e.call_id, e.model, e.embedding,
			e.sentiment, e.outcome, e.has_red_flags, e.has_action_items,
			e.duration_seconds, e.called_at, e.language, left(c.transcript, %d)
		FROM enrichment_cache e
		JOIN calls c ON c.id = e.call_id
		WHERE %s`, previewLength, strings.Join(conditions, " AND "))

	return query, args
}

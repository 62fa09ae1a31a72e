package models

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ContentType discriminates what a content hash was computed over.
type ContentType string

// Content types.
const (
	ContentTypeAudioForTranscription  ContentType = "audio-for-transcription"
	ContentTypeTranscriptForInsights  ContentType = "transcript-for-insights"
	ContentTypeTranscriptForEmbedding ContentType = "transcript-for-embedding"
)

// ContentTypes lists every known content type.
var ContentTypes = []ContentType{
	ContentTypeAudioForTranscription,
	ContentTypeTranscriptForInsights,
	ContentTypeTranscriptForEmbedding,
}

// IsValid reports whether c is a known content type.
func (c ContentType) IsValid() bool {
	return slices.Contains(ContentTypes, c)
}

// Usage is the token and cost accounting for one generation.
type Usage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// TotalTokens returns prompt plus completion tokens.
func (u Usage) TotalTokens() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// CacheEntry is the latest generated artifact for (call, content type).
// Embedding and Metadata are set only for embedding entries.
type CacheEntry struct {
	CallID       uuid.UUID          `json:"call_id"`
	ContentType  ContentType        `json:"content_type"`
	Model        string             `json:"model"`
	ModelVersion string             `json:"model_version,omitempty"`
	ContentHash  string             `json:"content_hash"`
	Artifact     json.RawMessage    `json:"artifact,omitempty"`
	Embedding    []float32          `json:"embedding,omitempty"`
	Metadata     *EmbeddingMetadata `json:"metadata,omitempty"`
	Usage        Usage              `json:"usage"`
	GeneratedAt  time.Time          `json:"generated_at"`
}

// Ref returns a lightweight reference to the entry.
func (e *CacheEntry) Ref() *ArtifactRef {
	return &ArtifactRef{
		CallID:      e.CallID,
		ContentType: e.ContentType,
		ContentHash: e.ContentHash,
		Model:       e.Model,
		GeneratedAt: e.GeneratedAt,
	}
}

// ArtifactRef identifies a stored artifact without carrying it.
type ArtifactRef struct {
	CallID      uuid.UUID   `json:"call_id"`
	ContentType ContentType `json:"content_type"`
	ContentHash string      `json:"content_hash"`
	Model       string      `json:"model"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// UsageRecord is the write-only audit row for billing and reporting.
type UsageRecord struct {
	CallID     uuid.UUID  `json:"call_id"`
	JobID      *uuid.UUID `json:"job_id,omitempty"`
	JobType    JobType    `json:"job_type"`
	Model      string     `json:"model"`
	TokenCount int64      `json:"token_count"`
	CostUSD    float64    `json:"cost_usd"`
	Cached     bool       `json:"cached"`
	CreatedAt  time.Time  `json:"created_at"`
}

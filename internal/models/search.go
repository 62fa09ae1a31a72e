package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// EmbeddingMetadata is denormalized call data stored next to an embedding for filtering.
type EmbeddingMetadata struct {
	Sentiment       *string    `json:"sentiment,omitempty"`
	Outcome         *string    `json:"outcome,omitempty"`
	HasRedFlags     bool       `json:"has_red_flags"`
	HasActionItems  bool       `json:"has_action_items"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	CalledAt        *time.Time `json:"called_at,omitempty"`
	Language        *string    `json:"language,omitempty"`
}

// InsightsFilters are the EmbeddingMetadata fields taken from a call's insights.
type InsightsFilters struct {
	Sentiment      *string
	Outcome        *string
	HasRedFlags    bool
	HasActionItems bool
}

// FiltersFromInsights extracts the filterable fields of insights. Empty strings stay unset.
func FiltersFromInsights(insights CallInsights) InsightsFilters {
	f := InsightsFilters{
		HasRedFlags:    len(insights.RedFlags) > 0,
		HasActionItems: len(insights.ActionItems) > 0,
	}

	if insights.Sentiment != "" {
		f.Sentiment = &insights.Sentiment
	}

	if insights.Outcome != "" {
		f.Outcome = &insights.Outcome
	}

	return f
}

// ApplyInsights overwrites the insights-derived fields of md with f.
func (md *EmbeddingMetadata) ApplyInsights(f InsightsFilters) {
	md.Sentiment = f.Sentiment
	md.Outcome = f.Outcome
	md.HasRedFlags = f.HasRedFlags
	md.HasActionItems = f.HasActionItems
}

// EmbeddingRecord is one stored vector with its metadata, as returned by a candidate source.
type EmbeddingRecord struct {
	CallID   uuid.UUID
	Model    string
	Vector   []float32
	Metadata EmbeddingMetadata
	Preview  string
}

// SearchFilters are conjunctive. An empty set or nil bound matches everything for that dimension.
type SearchFilters struct {
	Sentiments     []string   `json:"sentiments,omitempty"`
	Outcomes       []string   `json:"outcomes,omitempty"`
	From           *time.Time `json:"from,omitempty"`
	To             *time.Time `json:"to,omitempty"`
	MinDuration    *int       `json:"min_duration,omitempty"`
	MaxDuration    *int       `json:"max_duration,omitempty"`
	HasRedFlags    *bool      `json:"has_red_flags,omitempty"`
	HasActionItems *bool      `json:"has_action_items,omitempty"`
}

// Matches reports whether md satisfies every set filter.
func (f SearchFilters) Matches(md EmbeddingMetadata) bool {
	if len(f.Sentiments) > 0 && (md.Sentiment == nil || !slices.Contains(f.Sentiments, *md.Sentiment)) {
		return false
	}

	if len(f.Outcomes) > 0 && (md.Outcome == nil || !slices.Contains(f.Outcomes, *md.Outcome)) {
		return false
	}

	if f.From != nil || f.To != nil {
		if md.CalledAt == nil {
			return false
		}

		if f.From != nil && md.CalledAt.Before(*f.From) {
			return false
		}

		if f.To != nil && md.CalledAt.After(*f.To) {
			return false
		}
	}

	if f.MinDuration != nil || f.MaxDuration != nil {
		if md.DurationSeconds == nil {
			return false
		}

		if f.MinDuration != nil && *md.DurationSeconds < *f.MinDuration {
			return false
		}

		if f.MaxDuration != nil && *md.DurationSeconds > *f.MaxDuration {
			return false
		}
	}

	if f.HasRedFlags != nil && md.HasRedFlags != *f.HasRedFlags {
		return false
	}

	if f.HasActionItems != nil && md.HasActionItems != *f.HasActionItems {
		return false
	}

	return true
}

// Match is one search hit.
type Match struct {
	CallID     uuid.UUID         `json:"call_id"`
	Similarity float64           `json:"similarity"`
	Metadata   EmbeddingMetadata `json:"metadata"`
	Preview    string            `json:"preview,omitempty"`
}

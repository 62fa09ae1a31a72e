package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestSearchFilters_Matches(t *testing.T) {
	calledAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	md := EmbeddingMetadata{
		Sentiment:       ptr(SentimentNegative),
		Outcome:         ptr("escalated"),
		HasRedFlags:     true,
		HasActionItems:  false,
		DurationSeconds: ptr(300),
		CalledAt:        &calledAt,
	}

	tests := []struct {
		name    string
		filters SearchFilters
		want    bool
	}{
		{"empty filters match everything", SearchFilters{}, true},
		{"sentiment in set", SearchFilters{Sentiments: []string{"negative", "mixed"}}, true},
		{"sentiment not in set", SearchFilters{Sentiments: []string{"positive"}}, false},
		{"outcome in set", SearchFilters{Outcomes: []string{"escalated"}}, true},
		{"outcome not in set", SearchFilters{Outcomes: []string{"resolved"}}, false},
		{"inside date range", SearchFilters{From: ptr(calledAt.Add(-time.Hour)), To: ptr(calledAt.Add(time.Hour))}, true},
		{"before from", SearchFilters{From: ptr(calledAt.Add(time.Hour))}, false},
		{"after to", SearchFilters{To: ptr(calledAt.Add(-time.Hour))}, false},
		{"inside duration range", SearchFilters{MinDuration: ptr(60), MaxDuration: ptr(600)}, true},
		{"shorter than min", SearchFilters{MinDuration: ptr(301)}, false},
		{"longer than max", SearchFilters{MaxDuration: ptr(299)}, false},
		{"red flags true", SearchFilters{HasRedFlags: ptr(true)}, true},
		{"red flags false", SearchFilters{HasRedFlags: ptr(false)}, false},
		{"action items false", SearchFilters{HasActionItems: ptr(false)}, true},
		{"conjunction both hold", SearchFilters{Sentiments: []string{"negative"}, HasRedFlags: ptr(true)}, true},
		{"conjunction one fails", SearchFilters{Sentiments: []string{"negative"}, HasActionItems: ptr(true)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filters.Matches(md))
		})
	}

	t.Run("missing metadata fails a set filter", func(t *testing.T) {
		assert.False(t, SearchFilters{Sentiments: []string{"negative"}}.Matches(EmbeddingMetadata{}))
		assert.False(t, SearchFilters{MinDuration: ptr(1)}.Matches(EmbeddingMetadata{}))
		assert.False(t, SearchFilters{From: &calledAt}.Matches(EmbeddingMetadata{}))
	})
}

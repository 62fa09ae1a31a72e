// Package search ranks stored embedding vectors against a query vector by cosine similarity.
//
// The engine is a linear scan over the candidates handed to it. Candidate retrieval
// (ownership, model, and coarse filter push-down) is the caller's job; the engine
// re-applies the filters so the ranking contract holds for any candidate source.
package search

import (
	"cmp"
	"slices"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
	"github.com/callinsights/hub/pkg/embeddings"
)

// Query describes one search.
// Limit <= 0 returns every match above Threshold.
type Query struct {
	Vector    []float32
	Model     string
	Filters   models.SearchFilters
	Limit     int
	Threshold float64
}

// Engine is a stateless vector search engine.
type Engine struct{}

// NewEngine creates an Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Search returns candidates with similarity >= q.Threshold that satisfy q.Filters, sorted by
// similarity descending and truncated to q.Limit. Candidates from a model other than q.Model are
// never compared. Returns an empty slice when there are no candidates and DimensionMismatchError
// when a comparable candidate's dimension differs from the query's.
func (e *Engine) Search(q Query, candidates []models.EmbeddingRecord) ([]models.Match, error) {
	matches := make([]models.Match, 0)

	for _, c := range candidates {
		if q.Model != "" && c.Model != q.Model {
			continue
		}

		if len(c.Vector) != len(q.Vector) {
			return nil, huberrors.NewDimensionMismatchError(len(c.Vector), len(q.Vector))
		}

		if !q.Filters.Matches(c.Metadata) {
			continue
		}

		similarity, err := embeddings.CosineSimilarity(q.Vector, c.Vector)
		if err != nil {
			return nil, huberrors.NewDimensionMismatchError(len(c.Vector), len(q.Vector))
		}

		if similarity < q.Threshold {
			continue
		}

		matches = append(matches, models.Match{
			CallID:     c.CallID,
			Similarity: similarity,
			Metadata:   c.Metadata,
			Preview:    c.Preview,
		})
	}

	slices.SortStableFunc(matches, func(a, b models.Match) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}

		return cmp.Compare(a.CallID.String(), b.CallID.String())
	})

	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}

	return matches, nil
}

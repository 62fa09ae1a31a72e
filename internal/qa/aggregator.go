// Package qa aggregates weighted QA criterion scores into category subtotals, a total, and a grade.
package qa

import (
	"github.com/callinsights/hub/internal/models"
)

const maxTotal = 100

// Aggregator scores criteria against a grade table. It holds no other state.
type Aggregator struct {
	grades GradeTable
}

// NewAggregator creates an Aggregator. A zero GradeTable falls back to DefaultGradeTable.
func NewAggregator(grades GradeTable) *Aggregator {
	if len(grades.thresholds) == 0 {
		grades = DefaultGradeTable()
	}

	return &Aggregator{grades: grades}
}

// Score computes the result. Inapplicable criteria count as 0 and are left out of both the
// category subtotal and its maximum. Scores are clamped to [0, weight]. The total is the sum of
// category subtotals clamped to [0, 100]. Categories keep first-appearance order.
func (a *Aggregator) Score(criteria []models.QACriterionScore) models.QAScoreResult {
	index := make(map[string]int)
	categories := make([]models.QACategoryResult, 0)

	for _, c := range criteria {
		i, ok := index[c.Category]
		if !ok {
			i = len(categories)
			index[c.Category] = i
			categories = append(categories, models.QACategoryResult{Category: c.Category})
		}

		cat := &categories[i]

		if !c.Applicable {
			cat.Inapplicable++

			continue
		}

		weight := max(c.Weight, 0)
		cat.Applicable++
		cat.MaxScore += weight
		cat.Subtotal += clamp(c.Score, 0, weight)
	}

	var total float64

	for i := range categories {
		cat := &categories[i]
		if cat.MaxScore > 0 {
			cat.Percentage = cat.Subtotal / cat.MaxScore * 100
		}

		total += cat.Subtotal
	}

	total = clamp(total, 0, maxTotal)

	return models.QAScoreResult{
		Categories: categories,
		Total:      total,
		Grade:      a.grades.Grade(total),
	}
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

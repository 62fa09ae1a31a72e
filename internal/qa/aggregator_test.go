package qa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callinsights/hub/internal/models"
)

func TestAggregator_Score(t *testing.T) {
	agg := NewAggregator(GradeTable{})

	t.Run("inapplicable criterion never penalizes", func(t *testing.T) {
		result := agg.Score([]models.QACriterionScore{
			{Name: "greeting", Category: "A", Weight: 10, Score: 10, Applicable: true},
			{Name: "upsell", Category: "A", Weight: 5, Score: 0, Applicable: false},
			{Name: "resolution", Category: "B", Weight: 20, Score: 15, Applicable: true},
		})

		require.Len(t, result.Categories, 2)

		a := result.Categories[0]
		assert.Equal(t, "A", a.Category)
		assert.InDelta(t, 10, a.Subtotal, 1e-9)
		assert.InDelta(t, 10, a.MaxScore, 1e-9)
		assert.InDelta(t, 100, a.Percentage, 1e-9)
		assert.Equal(t, 1, a.Applicable)
		assert.Equal(t, 1, a.Inapplicable)

		b := result.Categories[1]
		assert.InDelta(t, 15, b.Subtotal, 1e-9)
		assert.InDelta(t, 75, b.Percentage, 1e-9)

		assert.InDelta(t, 25, result.Total, 1e-9)
		assert.Equal(t, "F", result.Grade)
	})

	t.Run("inapplicable score is forced to zero", func(t *testing.T) {
		result := agg.Score([]models.QACriterionScore{
			{Name: "x", Category: "A", Weight: 10, Score: 10, Applicable: false},
		})

		assert.InDelta(t, 0, result.Total, 1e-9)
		assert.InDelta(t, 0, result.Categories[0].Percentage, 1e-9)
		assert.InDelta(t, 0, result.Categories[0].MaxScore, 1e-9)
	})

	t.Run("total is clamped to 100", func(t *testing.T) {
		result := agg.Score([]models.QACriterionScore{
			{Name: "x", Category: "A", Weight: 80, Score: 80, Applicable: true},
			{Name: "y", Category: "B", Weight: 80, Score: 70, Applicable: true},
		})

		assert.InDelta(t, 100, result.Total, 1e-9)
		assert.Equal(t, "A", result.Grade)
	})

	t.Run("score above weight is clamped", func(t *testing.T) {
		result := agg.Score([]models.QACriterionScore{
			{Name: "x", Category: "A", Weight: 10, Score: 14, Applicable: true},
			{Name: "y", Category: "A", Weight: 10, Score: -3, Applicable: true},
		})

		assert.InDelta(t, 10, result.Categories[0].Subtotal, 1e-9)
		assert.InDelta(t, 50, result.Categories[0].Percentage, 1e-9)
	})

	t.Run("no criteria", func(t *testing.T) {
		result := agg.Score(nil)

		assert.Empty(t, result.Categories)
		assert.InDelta(t, 0, result.Total, 1e-9)
		assert.Equal(t, "F", result.Grade)
	})

	t.Run("edits are reflected on recompute", func(t *testing.T) {
		criteria := []models.QACriterionScore{
			{Name: "x", Category: "A", Weight: 50, Score: 40, Applicable: true},
			{Name: "y", Category: "B", Weight: 50, Score: 50, Applicable: true},
		}
		first := agg.Score(criteria)
		criteria[0].Score = 50
		second := agg.Score(criteria)

		assert.InDelta(t, 90, first.Total, 1e-9)
		assert.InDelta(t, 100, second.Total, 1e-9)
	})
}

func TestAggregator_CustomGrades(t *testing.T) {
	table, err := NewGradeTable([]models.GradeThreshold{
		{Grade: "pass", MinScore: 70},
		{Grade: "fail", MinScore: 0},
	})
	require.NoError(t, err)

	agg := NewAggregator(table)

	result := agg.Score([]models.QACriterionScore{
		{Name: "x", Category: "A", Weight: 100, Score: 70, Applicable: true},
	})
	assert.Equal(t, "pass", result.Grade)
}

package models

// QACriterionScore is one weighted, optionally inapplicable scoring dimension.
type QACriterionScore struct {
	Name       string  `json:"name" validate:"required,max=255"`
	Category   string  `json:"category" validate:"required,max=255"`
	Weight     float64 `json:"weight" validate:"gte=0"`
	Applicable bool    `json:"applicable"`
	Score      float64 `json:"score" validate:"gte=0"`
	Notes      string  `json:"notes,omitempty"`
}

// QACategoryResult is the aggregate for one category.
// Percentage is 0 when no criterion in the category is applicable.
type QACategoryResult struct {
	Category     string  `json:"category"`
	Subtotal     float64 `json:"subtotal"`
	MaxScore     float64 `json:"max_score"`
	Percentage   float64 `json:"percentage"`
	Applicable   int     `json:"applicable"`
	Inapplicable int     `json:"inapplicable"`
}

// QAScoreResult is derived from criterion scores and never stored.
type QAScoreResult struct {
	Categories []QACategoryResult `json:"categories"`
	Total      float64            `json:"total"`
	Grade      string             `json:"grade"`
}

// GradeThreshold maps a minimum total to a letter grade.
type GradeThreshold struct {
	Grade    string  `json:"grade" yaml:"grade"`
	MinScore float64 `json:"min_score" yaml:"min_score"`
}

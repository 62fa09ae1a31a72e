package qa

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/callinsights/hub/internal/models"
)

var (
	// ErrEmptyGradeTable is returned when a grade table has no rows.
	ErrEmptyGradeTable = errors.New("qa: grade table is empty")
	// ErrInvalidGradeThreshold is returned for a row outside [0, 100] or with an empty grade.
	ErrInvalidGradeThreshold = errors.New("qa: invalid grade threshold")
	// ErrDuplicateGrade is returned when two rows share a grade.
	ErrDuplicateGrade = errors.New("qa: duplicate grade")
)

// GradeTable is a step function from a total score to a letter grade.
// Rows are kept sorted by MinScore descending.
type GradeTable struct {
	thresholds []models.GradeThreshold
}

// DefaultGradeTable is used when no grade file is configured.
func DefaultGradeTable() GradeTable {
	table, _ := NewGradeTable([]models.GradeThreshold{
		{Grade: "A", MinScore: 90},
		{Grade: "B", MinScore: 75},
		{Grade: "C", MinScore: 60},
		{Grade: "D", MinScore: 50},
		{Grade: "F", MinScore: 0},
	})

	return table
}

// NewGradeTable validates and sorts thresholds.
func NewGradeTable(thresholds []models.GradeThreshold) (GradeTable, error) {
	if len(thresholds) == 0 {
		return GradeTable{}, ErrEmptyGradeTable
	}

	seen := make(map[string]struct{}, len(thresholds))
	sorted := make([]models.GradeThreshold, 0, len(thresholds))

	for _, th := range thresholds {
		if th.Grade == "" || th.MinScore < 0 || th.MinScore > maxTotal {
			return GradeTable{}, fmt.Errorf("%w: %q >= %v", ErrInvalidGradeThreshold, th.Grade, th.MinScore)
		}

		if _, dup := seen[th.Grade]; dup {
			return GradeTable{}, fmt.Errorf("%w: %q", ErrDuplicateGrade, th.Grade)
		}

		seen[th.Grade] = struct{}{}
		sorted = append(sorted, th)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinScore > sorted[j].MinScore
	})

	return GradeTable{thresholds: sorted}, nil
}

// Grade returns the grade of the highest threshold total reaches.
// A total below every threshold gets the lowest grade.
func (g GradeTable) Grade(total float64) string {
	if len(g.thresholds) == 0 {
		return ""
	}

	for _, th := range g.thresholds {
		if total >= th.MinScore {
			return th.Grade
		}
	}

	return g.thresholds[len(g.thresholds)-1].Grade
}

// Thresholds returns a copy of the rows, highest first.
func (g GradeTable) Thresholds() []models.GradeThreshold {
	out := make([]models.GradeThreshold, len(g.thresholds))
	copy(out, g.thresholds)

	return out
}

type gradeFile struct {
	Grades []models.GradeThreshold `yaml:"grades"`
}

// LoadGradeTable reads a YAML grade table:
//
//	grades:
//	  - grade: A
//	    min_score: 90
func LoadGradeTable(path string) (GradeTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GradeTable{}, fmt.Errorf("read grade table: %w", err)
	}

	return ParseGradeTable(data)
}

// ParseGradeTable parses the YAML form accepted by LoadGradeTable.
func ParseGradeTable(data []byte) (GradeTable, error) {
	var f gradeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return GradeTable{}, fmt.Errorf("parse grade table: %w", err)
	}

	return NewGradeTable(f.Grades)
}

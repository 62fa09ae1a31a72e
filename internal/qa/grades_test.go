package qa

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callinsights/hub/internal/models"
)

func TestGradeTable_Grade(t *testing.T) {
	table := DefaultGradeTable()

	tests := []struct {
		total float64
		want  string
	}{
		{100, "A"},
		{90, "A"},
		{89.99, "B"},
		{75, "B"},
		{60, "C"},
		{50, "D"},
		{49.5, "F"},
		{0, "F"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, table.Grade(tt.total), "total %v", tt.total)
	}
}

func TestGradeTable_BelowEveryThreshold(t *testing.T) {
	table, err := NewGradeTable([]models.GradeThreshold{
		{Grade: "good", MinScore: 80},
		{Grade: "ok", MinScore: 40},
	})
	require.NoError(t, err)

	assert.Equal(t, "ok", table.Grade(10))
	assert.Equal(t, "good", table.Thresholds()[0].Grade)
}

func TestNewGradeTable_Errors(t *testing.T) {
	_, err := NewGradeTable(nil)
	require.ErrorIs(t, err, ErrEmptyGradeTable)

	_, err = NewGradeTable([]models.GradeThreshold{{Grade: "A", MinScore: 120}})
	require.ErrorIs(t, err, ErrInvalidGradeThreshold)

	_, err = NewGradeTable([]models.GradeThreshold{{Grade: "", MinScore: 10}})
	require.ErrorIs(t, err, ErrInvalidGradeThreshold)

	_, err = NewGradeTable([]models.GradeThreshold{{Grade: "A", MinScore: 90}, {Grade: "A", MinScore: 80}})
	require.ErrorIs(t, err, ErrDuplicateGrade)
}

func TestLoadGradeTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grades.yaml")

	content := []byte(`grades:
  - grade: B
    min_score: 70
  - grade: A
    min_score: 85
  - grade: C
    min_score: 0
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	table, err := LoadGradeTable(path)
	require.NoError(t, err)

	assert.Equal(t, "A", table.Grade(85))
	assert.Equal(t, "B", table.Grade(84))
	assert.Equal(t, "C", table.Grade(12))

	_, err = LoadGradeTable(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	_, err = ParseGradeTable([]byte("grades: [oops"))
	require.Error(t, err)
}

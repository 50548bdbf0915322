package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapLevel(t *testing.T) {
	tests := []struct {
		severity string
		want     Level
	}{
		{"critical", LevelError},
		{"error", LevelError},
		{"high", LevelError},
		{"HIGH", LevelError},
		{"warning", LevelWarning},
		{"medium", LevelWarning},
		{" Medium ", LevelWarning},
		{"note", LevelNote},
		{"info", LevelNote},
		{"information", LevelNote},
		{"low", LevelNote},
		{"none", LevelNone},
		{"bogus", LevelNote},
		{"", LevelNote},
	}
	for _, tt := range tests {
		t.Run(tt.severity, func(t *testing.T) {
			assert.Equal(t, tt.want, MapLevel(tt.severity))
		})
	}
}

func TestLevelRank(t *testing.T) {
	tests := []struct {
		level Level
		want  int
	}{
		{LevelNote, 1},
		{LevelWarning, 2},
		{LevelError, 3},
		{LevelNone, 0},
		{Level("unknown"), 0},
	}
	for _, tt := range tests {
		got := LevelRank(tt.level)
		if got != tt.want {
			t.Errorf("LevelRank(%q) = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestMeetsThreshold(t *testing.T) {
	tests := []struct {
		level     Level
		threshold string
		want      bool
	}{
		{LevelError, "none", false},
		{LevelError, "", false},
		{LevelError, "error", true},
		{LevelError, "warning", true},
		{LevelWarning, "high", false},
		{LevelWarning, "medium", true},
		{LevelNote, "warning", false},
		{LevelNote, "low", true},
	}
	for _, tt := range tests {
		got := MeetsThreshold(tt.level, tt.threshold)
		if got != tt.want {
			t.Errorf("MeetsThreshold(%q, %q) = %v, want %v", tt.level, tt.threshold, got, tt.want)
		}
	}
}

func TestSortFindings(t *testing.T) {
	findings := []Finding{
		{FilePath: "b.go", LineStart: 3, RuleID: "r1"},
		{FilePath: "a.go", LineStart: 9, RuleID: "r1"},
		{FilePath: "a.go", LineStart: 2, RuleID: "r2"},
		{FilePath: "a.go", LineStart: 2, RuleID: "r1"},
	}
	SortFindings(findings)

	got := make([]string, 0, len(findings))
	for _, f := range findings {
		got = append(got, f.FilePath+":"+f.RuleID)
	}
	assert.Equal(t, []string{"a.go:r1", "a.go:r2", "a.go:r1", "b.go:r1"}, got)
	assert.Equal(t, 2, findings[0].LineStart)
	assert.Equal(t, 9, findings[2].LineStart)
}

func TestDeduplicateFindings(t *testing.T) {
	findings := []Finding{
		{FilePath: "a.py", LineStart: 1, RuleID: "x", Message: "first"},
		{FilePath: "a.py", LineStart: 1, RuleID: "x", Message: "second"},
		{FilePath: "a.py", LineStart: 1, RuleID: "y", Message: "other rule"},
	}
	got := DeduplicateFindings(findings)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Message)
	assert.Equal(t, "y", got[1].RuleID)
}

func TestFindingID_Stable(t *testing.T) {
	f := Finding{FilePath: "a.py", LineStart: 4, RuleID: "lint.E1"}
	assert.Equal(t, FindingID(f), FindingID(f))
	assert.NotEqual(t, FindingID(f), FindingID(Finding{FilePath: "a.py", LineStart: 5, RuleID: "lint.E1"}))
}

func TestCountLevels(t *testing.T) {
	c := CountLevels([]Finding{
		{Level: "high"},
		{Level: "warning"},
		{Level: "medium"},
		{Level: "info"},
		{Level: "none"},
	})
	assert.Equal(t, LevelCounts{Error: 1, Warning: 2, Note: 1, None: 1}, c)
	assert.Equal(t, 5, c.Total())
}

func TestCountLevels_Empty(t *testing.T) {
	c := CountLevels(nil)
	if c.Total() != 0 {
		t.Errorf("Total = %d, want 0", c.Total())
	}
}

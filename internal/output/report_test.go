package output

import (
	"testing"

	"github.com/dshills/gauntlet/internal/review"
	"github.com/dshills/gauntlet/internal/sarif"
)

func sampleReport() *Report {
	findings := []review.Finding{
		{
			FilePath:    "main.go",
			LineStart:   10,
			LineEnd:     12,
			RuleID:      "bugs.nil-check",
			Message:     "x could be nil here",
			Suggestion:  "if x == nil { return err }",
			Level:       "high",
			SourceStage: "bugs",
			Confidence:  0.95,
		},
		{
			FilePath:    "util.py",
			LineStart:   4,
			RuleID:      "W0612",
			Message:     "Unused variable 'y'",
			Level:       "warning",
			SourceStage: "tools",
		},
		{
			FilePath:    "README.md",
			LineStart:   1,
			RuleID:      "style.heading",
			Message:     "Heading should be title case",
			Suggestion:  "Capitalize top-level headings",
			Level:       "low",
			SourceStage: "style",
		},
	}
	return &Report{
		Summary: Summary{
			Tool:       "gauntlet",
			Version:    "1.0",
			RunID:      "run-1",
			Files:      3,
			Stages:     []string{"prepare", "tools", "bugs", "report"},
			Successful: true,
			Counts:     review.CountLevels(findings),
			DurationMs: 42,
		},
		Findings: findings,
	}
}

func emptyReport() *Report {
	return &Report{
		Summary: Summary{
			Tool:       "gauntlet",
			Stages:     []string{"prepare", "report"},
			Successful: true,
		},
		Findings: []review.Finding{},
		SARIF:    sarif.Minimal("gauntlet", "1.0", nil, fixedTime),
	}
}

func TestGetWriter(t *testing.T) {
	for _, format := range append(Formats, "") {
		if _, err := GetWriter(format); err != nil {
			t.Errorf("GetWriter(%q) error: %v", format, err)
		}
	}
	if _, err := GetWriter("xml"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestReport_Exceeds(t *testing.T) {
	r := sampleReport()
	tests := []struct {
		threshold string
		want      bool
	}{
		{"error", true},
		{"warning", true},
		{"note", true},
		{"none", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := r.Exceeds(tt.threshold); got != tt.want {
			t.Errorf("Exceeds(%q) = %v, want %v", tt.threshold, got, tt.want)
		}
	}

	low := &Report{Findings: []review.Finding{{FilePath: "a", LineStart: 1, RuleID: "r", Message: "m", Level: "note"}}}
	if low.Exceeds("warning") {
		t.Error("note finding should not exceed warning threshold")
	}
}

func TestGroupByLevel(t *testing.T) {
	g := groupByLevel(sampleReport().Findings)
	if len(g[review.LevelError]) != 1 || len(g[review.LevelWarning]) != 1 || len(g[review.LevelNote]) != 1 {
		t.Errorf("unexpected grouping: %v", g)
	}
}

func TestLineRange(t *testing.T) {
	if got := lineRange(review.Finding{LineStart: 3}); got != "3" {
		t.Errorf("lineRange = %q, want 3", got)
	}
	if got := lineRange(review.Finding{LineStart: 3, LineEnd: 5}); got != "3-5" {
		t.Errorf("lineRange = %q, want 3-5", got)
	}
	if got := lineRange(review.Finding{LineStart: 3, LineEnd: 3}); got != "3" {
		t.Errorf("lineRange = %q, want 3", got)
	}
}

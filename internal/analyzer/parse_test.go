package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeItems(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{"array", `[{"line_start": 1, "message": "a"}, {"line_start": 2, "message": "b"}]`, 2, false},
		{"empty array", `[]`, 0, false},
		{"fenced", "```json\n[{\"line_start\": 1, \"message\": \"a\"}]\n```", 1, false},
		{"wrapped findings", `{"findings": [{"message": "a"}]}`, 1, false},
		{"wrapped potential_bugs", `{"potential_bugs": [{"message": "a"}, {"message": "b"}]}`, 2, false},
		{"single object", `{"line_start": 3, "message": "a"}`, 1, false},
		{"non-object elements dropped", `[{"message": "a"}, "junk", 3]`, 1, false},
		{"object without findings", `{"summary": "fine"}`, 0, true},
		{"scalar", `42`, 0, true},
		{"not json", `Looks good to me!`, 0, true},
		{"empty", "   ", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := decodeItems(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, items, tt.want)
		})
	}
}

func TestFileFindings(t *testing.T) {
	items, err := decodeItems(`[
		{"line_start": 2, "line_end": 3, "message": "Possible nil dereference", "rule": "Nil Pointer", "severity": "high", "suggestion": "check err", "confidence": "high"},
		{"line": 99, "description": "Off the end", "bug_type": "bounds", "confidence": 85},
		{"line_start": 1, "explanation": "no message here"},
		{"line_start": 0, "message": "Unlabelled", "explanation": "because"}
	]`)
	require.NoError(t, err)

	got, skipped := fileFindings("bugs", "main.go", 10, items)
	require.Len(t, got, 3)
	assert.Equal(t, 1, skipped)

	assert.Equal(t, "main.go", got[0].FilePath)
	assert.Equal(t, 2, got[0].LineStart)
	assert.Equal(t, 3, got[0].LineEnd)
	assert.Equal(t, "bugs.nil_pointer", got[0].RuleID)
	assert.Equal(t, "high", got[0].Level)
	assert.Equal(t, "bugs", got[0].SourceStage)
	assert.Equal(t, "check err", got[0].Suggestion)
	assert.InDelta(t, 0.9, got[0].Confidence, 1e-9)

	assert.Equal(t, 10, got[1].LineStart, "line clamped to file length")
	assert.Equal(t, "bugs.bounds", got[1].RuleID)
	assert.Equal(t, "warning", got[1].Level)
	assert.InDelta(t, 0.85, got[1].Confidence, 1e-9)

	assert.Equal(t, 1, got[2].LineStart)
	assert.Equal(t, "bugs.finding", got[2].RuleID)
	assert.Equal(t, "Unlabelled (because)", got[2].Message)
}

func TestConsolidatedFindings(t *testing.T) {
	items, err := decodeItems(`{"results": [
		{"file_path": "a.go", "line_start": 4, "message": "kept", "rule_id": "bugs.nil_pointer", "severity": "error", "source_stage": "bugs"},
		{"file_path": "b.go", "line": 1, "message": "no rule"},
		{"file_path": "c.go", "message": "no line"},
		{"line_start": 1, "message": "no path"}
	]}`)
	require.NoError(t, err)

	got, skipped := consolidatedFindings("meta_review", items)
	require.Len(t, got, 2)
	assert.Equal(t, 2, skipped)

	assert.Equal(t, "bugs.nil_pointer", got[0].RuleID)
	assert.Equal(t, "meta_review", got[0].SourceStage)
	assert.Equal(t, map[string]any{"originStage": "bugs"}, got[0].Extensions)
	assert.Equal(t, "meta_review.finding", got[1].RuleID)
	assert.Nil(t, got[1].Extensions)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "sql_injection", slug("SQL Injection"))
	assert.Equal(t, "off_by_one", slug("  off-by-one!! "))
	assert.Equal(t, "", slug("---"))
}

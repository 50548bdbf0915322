package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/dshills/gauntlet/internal/review"
)

// listKeys are object keys that may wrap the findings array.
var listKeys = []string{"findings", "results", "issues", "bugs", "potential_bugs"}

// confidenceWords maps verbal confidence onto the 0..1 scale.
var confidenceWords = map[string]float64{
	"high":   0.9,
	"medium": 0.6,
	"low":    0.3,
}

// stripFences removes a surrounding markdown code fence.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return strings.Trim(content, "`")
	}
	end := len(lines)
	if strings.TrimSpace(lines[end-1]) == "```" {
		end--
	}
	return strings.TrimSpace(strings.Join(lines[1:end], "\n"))
}

// decodeItems accepts a JSON array, a single finding object, or an object
// wrapping the array under a well-known key.
func decodeItems(content string) ([]map[string]any, error) {
	content = stripFences(content)
	if content == "" {
		return nil, errors.New("empty response")
	}
	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var list []any
	switch v := doc.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, k := range listKeys {
			if l, ok := v[k].([]any); ok {
				list = l
				break
			}
		}
		if list == nil {
			if _, ok := v["line_start"]; ok {
				list = []any{v}
			} else if _, ok := v["message"]; ok {
				list = []any{v}
			} else {
				return nil, errors.New("JSON object has no findings list")
			}
		}
	default:
		return nil, fmt.Errorf("expected a JSON array, got %T", doc)
	}

	items := make([]map[string]any, 0, len(list))
	for _, it := range list {
		if m, ok := it.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items, nil
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func num(m map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return 0
}

func confidence(m map[string]any) float64 {
	switch v := m["confidence"].(type) {
	case float64:
		if v > 1 && v <= 100 {
			v /= 100
		}
		return math.Max(0, math.Min(1, v))
	case string:
		if f, ok := confidenceWords[strings.ToLower(strings.TrimSpace(v))]; ok {
			return f
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return math.Max(0, math.Min(1, f))
		}
	}
	return 0
}

// slug lowercases s and replaces runs of non-alphanumerics with "_".
func slug(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// fileFindings converts one reply for path into findings attributed to
// stage. Items with no message are skipped and counted.
func fileFindings(stage, path string, lines int, items []map[string]any) ([]review.Finding, int) {
	out := make([]review.Finding, 0, len(items))
	skipped := 0
	for _, it := range items {
		msg := str(it, "message", "message_text", "description", "title")
		if msg == "" {
			skipped++
			continue
		}
		if expl := str(it, "explanation"); expl != "" && !strings.Contains(msg, expl) {
			msg += " (" + expl + ")"
		}
		rule := slug(str(it, "rule", "rule_id", "bug_type", "category", "type"))
		if rule == "" {
			rule = "finding"
		}
		level := str(it, "severity", "level")
		if level == "" {
			level = string(review.LevelWarning)
		}
		f := review.Finding{
			FilePath:    path,
			LineStart:   num(it, "line_start", "startLine", "line"),
			LineEnd:     num(it, "line_end", "endLine"),
			Message:     msg,
			RuleID:      stage + "." + rule,
			RuleName:    rule,
			Level:       level,
			SourceStage: stage,
			Suggestion:  str(it, "suggestion", "fix"),
			Confidence:  confidence(it),
		}
		clampLines(&f, lines)
		out = append(out, f)
	}
	return out, skipped
}

// consolidatedFindings converts a consolidation reply. Items missing a
// path, line or message are skipped and counted.
func consolidatedFindings(stage string, items []map[string]any) ([]review.Finding, int) {
	out := make([]review.Finding, 0, len(items))
	skipped := 0
	for _, it := range items {
		path := str(it, "file_path", "path", "file")
		line := num(it, "line_start", "startLine", "line")
		msg := str(it, "message", "message_text")
		if path == "" || line < 1 || msg == "" {
			skipped++
			continue
		}
		rule := str(it, "rule_id", "ruleId", "rule")
		if rule == "" {
			rule = stage + ".finding"
		}
		level := str(it, "severity", "level")
		if level == "" {
			level = string(review.LevelWarning)
		}
		f := review.Finding{
			FilePath:    path,
			LineStart:   line,
			LineEnd:     num(it, "line_end", "endLine"),
			Message:     msg,
			RuleID:      rule,
			Level:       level,
			SourceStage: stage,
			Suggestion:  str(it, "suggestion"),
			Confidence:  confidence(it),
		}
		if origin := str(it, "source_stage", "tool_name", "stage"); origin != "" && origin != stage {
			f.Extensions = map[string]any{"originStage": origin}
		}
		clampLines(&f, 0)
		out = append(out, f)
	}
	return out, skipped
}

// clampLines keeps a finding's region inside the file. lines of zero
// disables the upper bound.
func clampLines(f *review.Finding, lines int) {
	if f.LineStart < 1 {
		f.LineStart = 1
	}
	if lines > 0 && f.LineStart > lines {
		f.LineStart = lines
	}
	if f.LineEnd != 0 {
		if lines > 0 && f.LineEnd > lines {
			f.LineEnd = lines
		}
		if f.LineEnd < f.LineStart {
			f.LineEnd = f.LineStart
		}
	}
}

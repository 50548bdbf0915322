package review

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// Level is a SARIF result level.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelNote    Level = "note"
	LevelNone    Level = "none"
)

// DefaultLevel is used when a severity term is missing or not recognized.
const DefaultLevel = LevelNote

var severityTaxonomy = map[string]Level{
	"critical":    LevelError,
	"error":       LevelError,
	"high":        LevelError,
	"warning":     LevelWarning,
	"medium":      LevelWarning,
	"note":        LevelNote,
	"info":        LevelNote,
	"information": LevelNote,
	"low":         LevelNote,
	"none":        LevelNone,
}

// MapLevel maps a tool or analyzer severity term onto a SARIF level.
// Matching ignores case and surrounding whitespace.
func MapLevel(severity string) Level {
	if l, ok := severityTaxonomy[strings.ToLower(strings.TrimSpace(severity))]; ok {
		return l
	}
	return DefaultLevel
}

// LevelRank returns a numeric rank for sorting (higher = more severe).
func LevelRank(l Level) int {
	switch l {
	case LevelError:
		return 3
	case LevelWarning:
		return 2
	case LevelNote:
		return 1
	default:
		return 0
	}
}

// MeetsThreshold returns true if the level is at or above the threshold.
func MeetsThreshold(l Level, threshold string) bool {
	if threshold == "none" || threshold == "" {
		return false
	}
	return LevelRank(l) >= LevelRank(MapLevel(threshold))
}

// ChangedFile is one file under review.
type ChangedFile struct {
	Path      string   `json:"path"`
	Content   string   `json:"content"`
	Language  string   `json:"language,omitempty"`
	DiffHunks []string `json:"diffHunks,omitempty"`
}

// Finding is a single issue reported by any stage.
type Finding struct {
	FilePath        string            `json:"filePath" validate:"required"`
	LineStart       int               `json:"lineStart" validate:"gte=1"`
	LineEnd         int               `json:"lineEnd,omitempty" validate:"omitempty,gtefield=LineStart"`
	ColumnStart     int               `json:"columnStart,omitempty" validate:"gte=0"`
	ColumnEnd       int               `json:"columnEnd,omitempty" validate:"gte=0"`
	Message         string            `json:"message" validate:"required"`
	RuleID          string            `json:"ruleId" validate:"required"`
	RuleName        string            `json:"ruleName,omitempty"`
	RuleDescription string            `json:"ruleDescription,omitempty"`
	HelpURI         string            `json:"helpUri,omitempty"`
	Level           string            `json:"level"`
	SourceStage     string            `json:"sourceStage,omitempty"`
	Suggestion      string            `json:"suggestion,omitempty"`
	Snippet         string            `json:"snippet,omitempty"`
	Confidence      float64           `json:"confidence,omitempty" validate:"gte=0,lte=1"`
	Fingerprints    map[string]string `json:"fingerprints,omitempty"`
	Extensions      map[string]any    `json:"extensions,omitempty"`
}

// Well-known Extensions keys.
const (
	// ExtTool names the external tool ("category.key") that produced a finding.
	ExtTool = "tool"
	// ExtReplacement carries replacement text for the finding's region.
	ExtReplacement = "replacement"
)

// SARIFLevel returns the finding's level mapped through the severity taxonomy.
func (f Finding) SARIFLevel() Level {
	return MapLevel(f.Level)
}

// FindingID returns a stable identifier built from path, rule and line.
func FindingID(f Finding) string {
	data := fmt.Sprintf("%s:%s:%d", f.FilePath, f.RuleID, f.LineStart)
	h := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", h[:8])
}

// SortFindings orders findings by path, then line, then rule id.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].FilePath != findings[j].FilePath {
			return findings[i].FilePath < findings[j].FilePath
		}
		if findings[i].LineStart != findings[j].LineStart {
			return findings[i].LineStart < findings[j].LineStart
		}
		return findings[i].RuleID < findings[j].RuleID
	})
}

// DeduplicateFindings removes findings that share path, rule and line,
// keeping the first occurrence.
func DeduplicateFindings(findings []Finding) []Finding {
	seen := make(map[string]bool, len(findings))
	result := make([]Finding, 0, len(findings))
	for _, f := range findings {
		id := FindingID(f)
		if !seen[id] {
			seen[id] = true
			result = append(result, f)
		}
	}
	return result
}

// LevelCounts holds counts by SARIF level.
type LevelCounts struct {
	Error   int `json:"error"`
	Warning int `json:"warning"`
	Note    int `json:"note"`
	None    int `json:"none"`
}

// Total returns the number of findings counted.
func (c LevelCounts) Total() int {
	return c.Error + c.Warning + c.Note + c.None
}

// CountLevels tallies findings by mapped level.
func CountLevels(findings []Finding) LevelCounts {
	var c LevelCounts
	for _, f := range findings {
		switch f.SARIFLevel() {
		case LevelError:
			c.Error++
		case LevelWarning:
			c.Warning++
		case LevelNote:
			c.Note++
		default:
			c.None++
		}
	}
	return c
}

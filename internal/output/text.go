package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/dshills/gauntlet/internal/review"
)

// TextWriter outputs a human-readable text report.
type TextWriter struct{}

func (t *TextWriter) Write(w io.Writer, report *Report) error {
	ew := &errWriter{w: w}
	s := report.Summary

	ew.printf("%s review: %d file(s), stages: %s\n", titleName(s.Tool), s.Files, strings.Join(s.Stages, " → "))
	if len(s.Skipped) > 0 {
		ew.printf("Skipped: %s\n", strings.Join(s.Skipped, ", "))
	}
	ew.println(strings.Repeat("─", 60))
	total := s.Counts.Total()
	ew.printf("Findings: %d total", total)
	if total > 0 {
		ew.printf(" (%d error, %d warning, %d note)", s.Counts.Error, s.Counts.Warning, s.Counts.Note)
	}
	ew.println("")
	ew.println(strings.Repeat("─", 60))

	if total == 0 {
		ew.println("\nNo issues found.")
	}

	grouped := groupByLevel(report.Findings)
	for _, lvl := range levelOrder {
		findings := grouped[lvl]
		if len(findings) == 0 {
			continue
		}
		ew.printf("\n%s %s\n", levelIcon(lvl), strings.ToUpper(string(lvl)))
		ew.println(strings.Repeat("─", 40))

		for _, f := range findings {
			ew.printf("\n  %s:%s  %s\n", f.FilePath, lineRange(f), f.RuleID)
			meta := "  Stage: " + orDash(f.SourceStage)
			if f.Confidence > 0 {
				meta += fmt.Sprintf(" | Confidence: %.0f%%", f.Confidence*100)
			}
			ew.println(meta)
			for _, line := range wrapText(f.Message, 70) {
				ew.printf("    %s\n", line)
			}
			if f.Suggestion != "" {
				ew.println("  Suggestion:")
				for _, line := range wrapText(f.Suggestion, 70) {
					ew.printf("    %s\n", line)
				}
			}
		}
	}

	if len(s.Errors) > 0 {
		ew.printf("\nErrors (%d):\n", len(s.Errors))
		for _, e := range s.Errors {
			ew.printf("  - %s\n", e)
		}
	}

	ew.printf("\n%s\n", strings.Repeat("─", 60))
	status := "successful"
	if !s.Successful {
		status = "completed with errors"
	}
	ew.printf("Run %s %s in %dms\n", orDash(s.RunID), status, s.DurationMs)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func (ew *errWriter) println(s string) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintln(ew.w, s)
}

func levelIcon(l review.Level) string {
	switch l {
	case review.LevelError:
		return "[!!]"
	case review.LevelWarning:
		return "[!]"
	case review.LevelNote:
		return "[-]"
	default:
		return "[?]"
	}
}

func titleName(tool string) string {
	if tool == "" {
		return "Gauntlet"
	}
	return strings.ToUpper(tool[:1]) + tool[1:]
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func wrapText(text string, width int) []string {
	if len(text) <= width {
		return []string{text}
	}
	var lines []string
	words := strings.Fields(text)
	var current strings.Builder
	for _, word := range words {
		if current.Len()+len(word)+1 > width && current.Len() > 0 {
			lines = append(lines, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}

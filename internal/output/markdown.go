package output

import (
	"io"
	"strings"

	"github.com/dshills/gauntlet/internal/review"
)

// MarkdownWriter outputs a PR-comment-friendly markdown report.
type MarkdownWriter struct{}

func (m *MarkdownWriter) Write(w io.Writer, report *Report) error {
	ew := &errWriter{w: w}
	s := report.Summary

	ew.printf("## %s Code Review\n\n", titleName(s.Tool))

	ew.printf("| Level | Count |\n")
	ew.printf("|-------|-------|\n")
	ew.printf("| Error | %d |\n", s.Counts.Error)
	ew.printf("| Warning | %d |\n", s.Counts.Warning)
	ew.printf("| Note | %d |\n", s.Counts.Note)
	ew.printf("| **Total** | **%d** |\n\n", s.Counts.Total())

	if !s.Successful {
		ew.printf("> :warning: %d stage error(s); results may be incomplete.\n\n", len(s.Errors))
	}

	if s.Counts.Total() == 0 {
		ew.println("No issues found. :white_check_mark:")
		return ew.err
	}

	grouped := groupByLevel(report.Findings)
	for _, lvl := range levelOrder {
		findings := grouped[lvl]
		if len(findings) == 0 {
			continue
		}

		ew.printf("<details>\n<summary>%s %s (%d)</summary>\n\n", mdLevelIcon(lvl), strings.ToUpper(string(lvl)), len(findings))
		for _, f := range findings {
			ew.printf("### `%s`\n\n", f.RuleID)
			ew.printf("**`%s:%s`** | %s\n\n", f.FilePath, lineRange(f), orDash(f.SourceStage))
			ew.printf("%s\n\n", f.Message)

			if f.Suggestion != "" {
				ew.printf("**Suggestion:**\n\n")
				if looksLikeCode(f.Suggestion) {
					ew.printf("```%s\n%s\n```\n\n", fenceLang(f), f.Suggestion)
				} else {
					ew.printf("> %s\n\n", strings.ReplaceAll(f.Suggestion, "\n", "\n> "))
				}
			}
			ew.printf("---\n\n")
		}
		ew.printf("</details>\n\n")
	}

	ew.printf("*Reviewed %d file(s) in %dms*\n", s.Files, s.DurationMs)
	return ew.err
}

func mdLevelIcon(l review.Level) string {
	switch l {
	case review.LevelError:
		return ":red_circle:"
	case review.LevelWarning:
		return ":orange_circle:"
	case review.LevelNote:
		return ":yellow_circle:"
	default:
		return ":white_circle:"
	}
}

func looksLikeCode(s string) bool {
	codeIndicators := []string{
		"func ", "if ", "for ", "return ", "var ", "const ",
		"def ", "class ", "import ", "from ",
		"{", "}", "=>", "->", ":=", "==",
		"()", "[];",
	}
	for _, indicator := range codeIndicators {
		if strings.Contains(s, indicator) {
			return true
		}
	}
	return false
}

// fenceLang names the code fence language for a finding's file.
func fenceLang(f review.Finding) string {
	lang := review.GuessLanguage(f.FilePath)
	switch lang {
	case "shell":
		return "bash"
	case "terraform":
		return "hcl"
	}
	return lang
}

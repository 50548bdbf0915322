package analyzer

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/dshills/gauntlet/internal/config"
	"github.com/dshills/gauntlet/internal/review"
)

const outputFormat = `Respond with ONLY a JSON array. No markdown, no explanation.
Each element describes one issue:
{
  "line_start": 1,
  "line_end": 1,
  "message": "What is wrong and why it matters",
  "rule": "short_issue_type",
  "severity": "critical|high|medium|low|info",
  "suggestion": "How to fix it",
  "confidence": 0.0
}
If there are no issues, respond with an empty array: []`

const defaultSystemPrompt = `You are {{.Stage}}, a strict, expert code reviewer working on {{if .Language}}{{.Language}} {{end}}source code.
Report only real problems: bugs, security issues, performance problems and correctness issues.
Reference line numbers as shown in the numbered listing.`

const defaultUserPrompt = `Review the file {{.Path}}{{if .Language}} ({{.Language}}){{end}}.
{{if .ToolFindings}}
Deterministic tools already reported:
{{.ToolFindings}}
Do not repeat these; look for what they missed.
{{end}}
--- BEGIN FILE ---
{{.Numbered}}
--- END FILE ---

{{.OutputFormat}}`

const consolidateSystemPrompt = `You are {{.Stage}}, a lead code reviewer. You receive findings produced by other reviewers.
De-duplicate findings that describe the same issue, drop likely false positives and vague findings,
and make messages clear and actionable. Keep file paths, line numbers and rule ids from the input where they still apply.`

const consolidateUserPrompt = `The review covered these files:
{{range .Files}}- {{.}}
{{end}}
There are {{.Count}} findings:

{{.Findings}}

Return the refined list as a JSON array. Each element has:
{
  "file_path": "path/from/input",
  "line_start": 1,
  "line_end": 1,
  "message": "refined message",
  "rule_id": "rule id from the input",
  "severity": "error|warning|note",
  "suggestion": "optional",
  "source_stage": "stage the finding came from"
}
If no findings remain valid, respond with an empty array: []`

// FileVars are the fields available to per-file prompt templates.
type FileVars struct {
	Stage        string
	Path         string
	Language     string
	Content      string
	Numbered     string
	ToolFindings string
	OutputFormat string
}

// ConsolidateVars are the fields available to consolidation templates.
type ConsolidateVars struct {
	Stage    string
	Files    []string
	Count    int
	Findings string
}

// Prompts holds the parsed system and user templates for one stage.
type Prompts struct {
	system *template.Template
	user   *template.Template
}

// LoadPrompts resolves templates for a stage. promptName defaults to the
// stage name. A prompt file "<promptName>_<language>" wins over
// "<promptName>" for the user template; "<promptName>_system" replaces the
// system template.
func LoadPrompts(cfg *config.Config, name, promptName, language, defSystem, defUser string) (*Prompts, error) {
	if promptName == "" {
		promptName = name
	}
	system, user := defSystem, defUser
	if cfg != nil {
		if p, ok := cfg.Prompt(promptName + "_" + language); ok && language != "" {
			user = p
		} else if p, ok := cfg.Prompt(promptName); ok {
			user = p
		}
		if p, ok := cfg.Prompt(promptName + "_system"); ok {
			system = p
		}
	}
	st, err := template.New(name + "_system").Option("missingkey=error").Parse(system)
	if err != nil {
		return nil, fmt.Errorf("parsing system prompt for %s: %w", name, err)
	}
	ut, err := template.New(name).Option("missingkey=error").Parse(user)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt for %s: %w", name, err)
	}
	return &Prompts{system: st, user: ut}, nil
}

// Render executes both templates.
func (p *Prompts) Render(vars any) (system, user string, err error) {
	var sb, ub strings.Builder
	if err := p.system.Execute(&sb, vars); err != nil {
		return "", "", fmt.Errorf("rendering system prompt: %w", err)
	}
	if err := p.user.Execute(&ub, vars); err != nil {
		return "", "", fmt.Errorf("rendering prompt: %w", err)
	}
	return sb.String(), ub.String(), nil
}

// numberLines prefixes each line with its 1-based number.
func numberLines(content string) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	width := len(fmt.Sprint(len(lines)))
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%*d | %s\n", width, i+1, line)
	}
	return b.String()
}

// describeFindings renders findings as a numbered plain-text list.
func describeFindings(findings []review.Finding) string {
	if len(findings) == 0 {
		return ""
	}
	var b strings.Builder
	for i, f := range findings {
		if i > 0 {
			b.WriteString("---\n")
		}
		fmt.Fprintf(&b, "Finding %d:\n", i+1)
		fmt.Fprintf(&b, "  File: %s\n", f.FilePath)
		fmt.Fprintf(&b, "  Line: %d\n", f.LineStart)
		if f.SourceStage != "" {
			fmt.Fprintf(&b, "  Stage: %s\n", f.SourceStage)
		}
		fmt.Fprintf(&b, "  Rule ID: %s\n", f.RuleID)
		fmt.Fprintf(&b, "  Severity: %s\n", f.SARIFLevel())
		fmt.Fprintf(&b, "  Message: %s\n", f.Message)
		if f.Suggestion != "" {
			fmt.Fprintf(&b, "  Suggestion: %s\n", f.Suggestion)
		}
	}
	return b.String()
}

package toolrun

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/gauntlet/internal/config"
	"github.com/dshills/gauntlet/internal/review"
)

// ParseFunc converts a tool's captured output into findings. target is the
// file the tool ran against (empty for project-wide tools).
type ParseFunc func(spec config.ToolSpec, target string, out *Output) ([]review.Finding, error)

var parsers = map[string]ParseFunc{
	"semgrep": parseSemgrep,
	"pylint":  parsePylint,
	"trivy":   parseTrivy,
	"generic": parseGeneric,
}

// Parsers returns the names of the built-in parsers, sorted.
func Parsers() []string {
	names := make([]string, 0, len(parsers))
	for n := range parsers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Findings converts out into findings using the tool's configured parser.
//
// A *ParseError may be returned together with the findings that could be
// decoded; callers log it and keep the findings.
func Findings(spec config.ToolSpec, target string, out *Output) ([]review.Finding, error) {
	if out == nil || spec.Parser == "" || spec.Parser == "none" {
		return nil, nil
	}
	fn, ok := parsers[spec.Parser]
	if !ok {
		return nil, &ParseError{Tool: spec.ID(), Err: fmt.Errorf("unknown parser %q", spec.Parser)}
	}
	findings, err := fn(spec, target, out)
	for i := range findings {
		f := &findings[i]
		if f.FilePath == "" {
			f.FilePath = target
		}
		f.FilePath = filepath.ToSlash(f.FilePath)
		if f.LineStart < 1 {
			f.LineStart = 1
		}
		if f.LineEnd != 0 && f.LineEnd < f.LineStart {
			f.LineEnd = f.LineStart
		}
		if f.Extensions == nil {
			f.Extensions = map[string]any{}
		}
		f.Extensions[review.ExtTool] = spec.ID()
	}
	if err != nil {
		var pe *ParseError
		if !errors.As(err, &pe) {
			err = &ParseError{Tool: spec.ID(), Err: err}
		}
	}
	return findings, err
}

type semgrepJSON struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
			Col  int `json:"col"`
		} `json:"start"`
		End struct {
			Line int `json:"line"`
			Col  int `json:"col"`
		} `json:"end"`
		Extra struct {
			Message  string `json:"message"`
			Severity string `json:"severity"`
			Lines    string `json:"lines"`
			Fix      string `json:"fix"`
			Metadata struct {
				Refs       []string `json:"references"`
				Source     string   `json:"source"`
				Confidence string   `json:"confidence"`
			} `json:"metadata"`
		} `json:"extra"`
	} `json:"results"`
}

func parseSemgrep(spec config.ToolSpec, _ string, out *Output) ([]review.Finding, error) {
	var doc semgrepJSON
	if err := json.Unmarshal([]byte(out.Raw), &doc); err != nil {
		return nil, err
	}
	findings := make([]review.Finding, 0, len(doc.Results))
	skipped := 0
	for _, r := range doc.Results {
		if r.Path == "" || r.Extra.Message == "" {
			skipped++
			continue
		}
		help := r.Extra.Metadata.Source
		if help == "" && len(r.Extra.Metadata.Refs) > 0 {
			help = r.Extra.Metadata.Refs[0]
		}
		f := review.Finding{
			FilePath:    r.Path,
			LineStart:   r.Start.Line,
			LineEnd:     r.End.Line,
			ColumnStart: r.Start.Col,
			ColumnEnd:   r.End.Col,
			Message:     r.Extra.Message,
			RuleID:      r.CheckID,
			RuleName:    lastSegment(r.CheckID),
			HelpURI:     help,
			Level:       strings.ToLower(r.Extra.Severity),
			Snippet:     strings.TrimRight(r.Extra.Lines, "\n"),
		}
		if r.Extra.Fix != "" {
			f.Suggestion = "Apply the semgrep autofix."
			f.Extensions = map[string]any{review.ExtReplacement: r.Extra.Fix}
		}
		findings = append(findings, f)
	}
	return findings, skippedErr(spec, skipped)
}

type pylintMessage struct {
	Type      string `json:"type"`
	Module    string `json:"module"`
	Obj       string `json:"obj"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	EndLine   *int   `json:"endLine"`
	EndColumn *int   `json:"endColumn"`
	Path      string `json:"path"`
	Symbol    string `json:"symbol"`
	Message   string `json:"message"`
	MessageID string `json:"message-id"`
}

// pylint message types onto taxonomy terms.
var pylintLevels = map[string]string{
	"fatal":      "error",
	"error":      "error",
	"warning":    "warning",
	"refactor":   "note",
	"convention": "note",
	"info":       "info",
}

func parsePylint(spec config.ToolSpec, target string, out *Output) ([]review.Finding, error) {
	var msgs []pylintMessage
	if err := json.Unmarshal([]byte(out.Raw), &msgs); err != nil {
		return nil, err
	}
	findings := make([]review.Finding, 0, len(msgs))
	skipped := 0
	for _, m := range msgs {
		if m.Message == "" {
			skipped++
			continue
		}
		path := m.Path
		if target != "" {
			// pylint reports the path as given on the command line.
			path = target
		}
		f := review.Finding{
			FilePath:  path,
			LineStart: m.Line,
			Message:   m.Message,
			RuleID:    firstNonEmpty(m.MessageID, m.Symbol),
			RuleName:  m.Symbol,
			Level:     pylintLevels[strings.ToLower(m.Type)],
		}
		// pylint columns are 0-based, SARIF columns 1-based.
		f.ColumnStart = m.Column + 1
		if m.EndLine != nil {
			f.LineEnd = *m.EndLine
		}
		if m.EndColumn != nil {
			f.ColumnEnd = *m.EndColumn + 1
		}
		findings = append(findings, f)
	}
	return findings, skippedErr(spec, skipped)
}

type trivyJSON struct {
	Results []struct {
		Target            string `json:"Target"`
		Misconfigurations []struct {
			ID            string   `json:"ID"`
			Title         string   `json:"Title"`
			Description   string   `json:"Description"`
			Message       string   `json:"Message"`
			Severity      string   `json:"Severity"`
			PrimaryURL    string   `json:"PrimaryURL"`
			References    []string `json:"References"`
			CauseMetadata struct {
				StartLine int `json:"StartLine"`
				EndLine   int `json:"EndLine"`
			} `json:"CauseMetadata"`
		} `json:"Misconfigurations"`
		Vulnerabilities []struct {
			VulnerabilityID  string `json:"VulnerabilityID"`
			PkgName          string `json:"PkgName"`
			InstalledVersion string `json:"InstalledVersion"`
			FixedVersion     string `json:"FixedVersion"`
			Title            string `json:"Title"`
			Severity         string `json:"Severity"`
			PrimaryURL       string `json:"PrimaryURL"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

func parseTrivy(_ config.ToolSpec, _ string, out *Output) ([]review.Finding, error) {
	var doc trivyJSON
	if err := json.Unmarshal([]byte(out.Raw), &doc); err != nil {
		return nil, err
	}
	var findings []review.Finding
	for _, r := range doc.Results {
		for _, m := range r.Misconfigurations {
			help := m.PrimaryURL
			if help == "" && len(m.References) > 0 {
				help = m.References[0]
			}
			findings = append(findings, review.Finding{
				FilePath:        r.Target,
				LineStart:       m.CauseMetadata.StartLine,
				LineEnd:         m.CauseMetadata.EndLine,
				Message:         firstNonEmpty(m.Message, m.Description, m.Title),
				RuleID:          m.ID,
				RuleName:        m.Title,
				RuleDescription: m.Description,
				HelpURI:         help,
				Level:           strings.ToLower(m.Severity),
			})
		}
		for _, v := range r.Vulnerabilities {
			msg := fmt.Sprintf("%s %s: %s", v.PkgName, v.InstalledVersion, firstNonEmpty(v.Title, v.VulnerabilityID))
			f := review.Finding{
				FilePath:  r.Target,
				LineStart: 1,
				Message:   msg,
				RuleID:    v.VulnerabilityID,
				RuleName:  v.VulnerabilityID,
				HelpURI:   v.PrimaryURL,
				Level:     strings.ToLower(v.Severity),
			}
			if v.FixedVersion != "" {
				f.Suggestion = fmt.Sprintf("upgrade %s to %s", v.PkgName, v.FixedVersion)
			}
			findings = append(findings, f)
		}
	}
	return findings, nil
}

// Default dotted field paths for the generic parser.
var genericFields = map[string]string{
	"file":      "path",
	"line":      "line",
	"endLine":   "endLine",
	"column":    "column",
	"endColumn": "endColumn",
	"message":   "message",
	"rule":      "rule",
	"level":     "level",
}

func parseGeneric(spec config.ToolSpec, _ string, out *Output) ([]review.Finding, error) {
	if !out.IsJSON {
		return nil, errors.New("generic parser needs JSON output")
	}
	items, err := Unwrap(out.JSON, spec.Shape)
	if err != nil {
		return nil, err
	}
	field := func(name string) string {
		if p, ok := spec.Fields[name]; ok {
			return p
		}
		return genericFields[name]
	}

	findings := make([]review.Finding, 0, len(items))
	skipped := 0
	for _, item := range items {
		str := func(name string) string {
			v, _ := Lookup(item, field(name))
			return toString(v)
		}
		num := func(name string) int {
			v, _ := Lookup(item, field(name))
			return toInt(v)
		}
		msg := str("message")
		if msg == "" {
			skipped++
			continue
		}
		rule := str("rule")
		if rule == "" {
			rule = spec.ID()
		}
		findings = append(findings, review.Finding{
			FilePath:    str("file"),
			LineStart:   num("line"),
			LineEnd:     num("endLine"),
			ColumnStart: num("column"),
			ColumnEnd:   num("endColumn"),
			Message:     msg,
			RuleID:      rule,
			Level:       str("level"),
		})
	}
	return findings, skippedErr(spec, skipped)
}

func skippedErr(spec config.ToolSpec, skipped int) error {
	if skipped == 0 {
		return nil
	}
	return &ParseError{Tool: spec.ID(), Skipped: skipped, Err: errors.New("missing path or message")}
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func toInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func lastSegment(id string) string {
	if i := strings.LastIndexByte(id, '.'); i >= 0 && i < len(id)-1 {
		return id[i+1:]
	}
	return id
}

package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dshills/gauntlet/internal/config"
	"github.com/dshills/gauntlet/internal/pipeline"
	"github.com/dshills/gauntlet/internal/review"
	"github.com/dshills/gauntlet/internal/sarif"
)

// Formats lists the supported output formats.
var Formats = []string{"sarif", "json", "text", "markdown"}

// Summary describes one run.
type Summary struct {
	Tool       string             `json:"tool"`
	Version    string             `json:"version,omitempty"`
	RunID      string             `json:"runId,omitempty"`
	Files      int                `json:"files"`
	Stages     []string           `json:"stages"`
	Skipped    []string           `json:"skipped,omitempty"`
	Errors     []string           `json:"errors,omitempty"`
	Successful bool               `json:"successful"`
	Counts     review.LevelCounts `json:"counts"`
	DurationMs int64              `json:"durationMs"`
}

// Report is everything a Writer may render.
type Report struct {
	Summary  Summary          `json:"summary"`
	Findings []review.Finding `json:"findings"`
	SARIF    *sarif.Log       `json:"-"`
}

// FromState summarizes a finished run.
func FromState(st pipeline.State, cfg *config.Config, runID string, elapsed time.Duration) *Report {
	findings := st.Findings
	if findings == nil {
		findings = []review.Finding{}
	}
	s := Summary{
		RunID:      runID,
		Files:      len(st.Files),
		Stages:     st.Visited,
		Skipped:    st.Skipped,
		Errors:     st.Errors,
		Successful: st.Successful(),
		Counts:     review.CountLevels(findings),
		DurationMs: elapsed.Milliseconds(),
	}
	if cfg != nil {
		s.Tool = cfg.Report.ToolName
		s.Version = cfg.Report.ToolVersion
	}
	return &Report{Summary: s, Findings: findings, SARIF: st.Report}
}

// Exceeds reports whether any finding is at or above the threshold level.
func (r *Report) Exceeds(threshold string) bool {
	for _, f := range r.Findings {
		if review.MeetsThreshold(f.SARIFLevel(), threshold) {
			return true
		}
	}
	return false
}

// Writer writes a report in a specific format.
type Writer interface {
	Write(w io.Writer, report *Report) error
}

// GetWriter returns a writer for the specified format.
func GetWriter(format string) (Writer, error) {
	switch format {
	case "sarif", "":
		return &SARIFWriter{}, nil
	case "json":
		return &JSONWriter{}, nil
	case "text":
		return &TextWriter{}, nil
	case "markdown":
		return &MarkdownWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteReport writes the report to outPath, or stdout when outPath is empty.
func WriteReport(report *Report, format, outPath string) error {
	writer, err := GetWriter(format)
	if err != nil {
		return err
	}

	var w io.Writer
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	} else {
		w = os.Stdout
	}

	return writer.Write(w, report)
}

// levelOrder is the display order, most severe first.
var levelOrder = []review.Level{review.LevelError, review.LevelWarning, review.LevelNote, review.LevelNone}

func groupByLevel(findings []review.Finding) map[review.Level][]review.Finding {
	m := make(map[review.Level][]review.Finding)
	for _, f := range findings {
		l := f.SARIFLevel()
		m[l] = append(m[l], f)
	}
	for _, fs := range m {
		review.SortFindings(fs)
	}
	return m
}

func lineRange(f review.Finding) string {
	if f.LineEnd > f.LineStart {
		return fmt.Sprintf("%d-%d", f.LineStart, f.LineEnd)
	}
	return fmt.Sprintf("%d", f.LineStart)
}

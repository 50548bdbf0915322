package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dshills/gauntlet/internal/review"
)

func TestMarkdownWriter_WithFindings(t *testing.T) {
	var buf bytes.Buffer
	w := &MarkdownWriter{}
	if err := w.Write(&buf, sampleReport()); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"## Gauntlet Code Review",
		"| Error | 1 |",
		"| **Total** | **3** |",
		"<details>",
		"### `bugs.nil-check`",
		"**`main.go:10-12`** | bugs",
		"```go\nif x == nil { return err }\n```",
		"> Capitalize top-level headings",
		"*Reviewed 3 file(s) in 42ms*",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q", want)
		}
	}
	if strings.Contains(out, ":warning:") {
		t.Error("successful run should not carry a warning banner")
	}
}

func TestMarkdownWriter_NoFindings(t *testing.T) {
	var buf bytes.Buffer
	if err := (&MarkdownWriter{}).Write(&buf, emptyReport()); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "No issues found") {
		t.Error("Output should say no issues found")
	}
	if strings.Contains(out, "<details>") {
		t.Error("no sections expected without findings")
	}
}

func TestMarkdownWriter_FailedRun(t *testing.T) {
	report := emptyReport()
	report.Summary.Successful = false
	report.Summary.Errors = []string{"stage bugs: boom", "stage style: boom"}

	var buf bytes.Buffer
	if err := (&MarkdownWriter{}).Write(&buf, report); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if !strings.Contains(buf.String(), "2 stage error(s)") {
		t.Errorf("expected error banner, got:\n%s", buf.String())
	}
}

func TestLooksLikeCode(t *testing.T) {
	tests := []struct {
		s    string
		want bool
	}{
		{"if err != nil { return err }", true},
		{"x := compute()", true},
		{"Consider renaming this variable", false},
	}
	for _, tt := range tests {
		if got := looksLikeCode(tt.s); got != tt.want {
			t.Errorf("looksLikeCode(%q) = %v, want %v", tt.s, got, tt.want)
		}
	}
}

func TestFenceLang(t *testing.T) {
	tests := map[string]string{
		"main.go":   "go",
		"run.sh":    "bash",
		"main.tf":   "hcl",
		"notes.txt": "",
	}
	for path, want := range tests {
		if got := fenceLang(review.Finding{FilePath: path}); got != want {
			t.Errorf("fenceLang(%q) = %q, want %q", path, got, want)
		}
	}
}

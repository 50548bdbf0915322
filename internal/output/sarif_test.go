package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/dshills/gauntlet/internal/sarif"
)

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestSARIFWriter(t *testing.T) {
	report := emptyReport()

	var buf bytes.Buffer
	if err := (&SARIFWriter{}).Write(&buf, report); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	parsed, err := sarif.Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Output is not valid SARIF: %v", err)
	}
	if parsed.Version != sarif.Version {
		t.Errorf("Version = %q, want %q", parsed.Version, sarif.Version)
	}
	if got := parsed.Run().Tool.Driver.Name; got != "gauntlet" {
		t.Errorf("Driver name = %q, want gauntlet", got)
	}
	if len(parsed.Results()) != 0 {
		t.Errorf("Results = %d, want 0", len(parsed.Results()))
	}
}

func TestSARIFWriter_NoLog(t *testing.T) {
	var buf bytes.Buffer
	if err := (&SARIFWriter{}).Write(&buf, sampleReport()); err == nil {
		t.Error("expected error when report has no SARIF log")
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be written, got %q", buf.String())
	}
}

package stages

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/gauntlet/internal/pipeline"
	"github.com/dshills/gauntlet/internal/sarif"
)

// Report is the terminal stage. It aggregates the accumulated findings into
// a SARIF log; malformed findings are dropped with a warning notification.
type Report struct {
	clock func() time.Time
}

// NewReport returns the report stage. A nil clock uses time.Now.
func NewReport(clock func() time.Time) *Report {
	if clock == nil {
		clock = time.Now
	}
	return &Report{clock: clock}
}

// Name returns "report".
func (*Report) Name() string { return ReportName }

// Run builds the report. The invocation is successful only when no stage
// recorded an error and no finding was dropped.
func (r *Report) Run(_ context.Context, rc pipeline.RunContext) (pipeline.Outcome, error) {
	opts := sarif.Options{Clock: r.clock, Logger: rc.Logger}
	if cfg := rc.Config; cfg != nil {
		opts.ToolName = cfg.Report.ToolName
		opts.ToolVersion = cfg.Report.ToolVersion
		opts.InformationURI = cfg.Report.InformationURI
		opts.Organization = cfg.Report.Organization
		opts.WorkspaceRoot = cfg.Workspace
	}
	b, err := sarif.NewBuilder(opts)
	if err != nil {
		return pipeline.Outcome{}, fmt.Errorf("creating report builder: %w", err)
	}

	var dropped []string
	for _, f := range rc.Prior.Findings {
		if err := b.AddReviewFinding(f); err != nil {
			msg := fmt.Sprintf("report: dropped finding %s at %s:%d: %v", f.RuleID, f.FilePath, f.LineStart, err)
			rc.Logger.Warn("dropping malformed finding", zap.Error(err), zap.String("source_stage", f.SourceStage))
			b.AddNotification("warning", msg)
			dropped = append(dropped, msg)
		}
	}
	for _, e := range rc.Prior.Errors {
		b.AddNotification("error", e)
	}

	// Every error already has its own notification.
	ok := len(rc.Prior.Errors) == 0 && len(dropped) == 0
	b.SetInvocationStatus(ok, "")

	rc.Logger.Info("report built",
		zap.Int("results", b.ResultCount()),
		zap.Int("dropped", len(dropped)),
		zap.Bool("successful", ok),
	)
	return pipeline.Outcome{Report: b.Report(), Errors: dropped}, nil
}

package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/gauntlet/internal/config"
	"github.com/dshills/gauntlet/internal/pipeline"
	"github.com/dshills/gauntlet/internal/review"
	"github.com/dshills/gauntlet/internal/toolrun"
)

// Tools runs every configured external tool: file-targeted tools once per
// matching file, project tools once per run.
type Tools struct {
	runner *toolrun.Runner
}

// NewTools returns the tools stage backed by runner.
func NewTools(runner *toolrun.Runner) *Tools {
	return &Tools{runner: runner}
}

// Name returns "tools".
func (*Tools) Name() string { return ToolsName }

type toolJob struct {
	spec   config.ToolSpec
	target string
}

type toolResult struct {
	findings []review.Finding
	err      string
}

// Run fans the invocations out over a bounded pool. Each job writes its own
// slot so results keep the job order before the final sort.
func (t *Tools) Run(ctx context.Context, rc pipeline.RunContext) (pipeline.Outcome, error) {
	if t.runner == nil {
		return pipeline.Outcome{}, fmt.Errorf("tool runner: %w", pipeline.ErrMissingDependency)
	}
	if rc.Config == nil {
		return pipeline.Outcome{}, fmt.Errorf("configuration: %w", pipeline.ErrMissingDependency)
	}
	cfg := rc.Config
	jobs := plan(cfg, rc.Files, rc.Logger)
	if len(jobs) == 0 {
		rc.Logger.Debug("no tool invocations planned")
		return pipeline.Outcome{}, nil
	}

	limit := 1
	if cfg.Concurrency > 0 {
		limit = cfg.Concurrency
	}
	results := make([]toolResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = t.runJob(ctx, job, rc.Logger)
			return nil
		})
	}
	_ = g.Wait()

	out := pipeline.Outcome{ToolResults: pipeline.ToolResults{}}
	for i, res := range results {
		spec := jobs[i].spec
		if res.err != "" {
			out.Errors = append(out.Errors, res.err)
		}
		if len(res.findings) > 0 {
			out.ToolResults.Add(spec.Category, spec.Key, res.findings...)
			out.Findings = append(out.Findings, res.findings...)
		}
	}
	review.SortFindings(out.Findings)
	rc.Logger.Info("tools finished",
		zap.Int("invocations", len(jobs)),
		zap.Int("findings", len(out.Findings)),
		zap.Int("errors", len(out.Errors)),
	)
	return out, nil
}

func (t *Tools) runJob(ctx context.Context, job toolJob, log *zap.Logger) toolResult {
	spec := job.spec
	res, err := t.runner.Run(ctx, toolrun.Request{
		Category:   spec.Category,
		Key:        spec.Key,
		TargetFile: job.target,
		ExpectJSON: spec.ExpectsJSON(),
	})
	if err != nil {
		msg := err.Error()
		if job.target != "" {
			msg = fmt.Sprintf("%s (file %s)", msg, job.target)
		}
		return toolResult{err: msg}
	}
	if res == nil {
		return toolResult{}
	}

	findings, err := toolrun.Findings(spec, job.target, res)
	if err != nil {
		// Parse problems never fail the stage; keep what was decoded.
		log.Warn("tool output not fully parsed", zap.String("tool", spec.ID()), zap.Error(err))
	}
	for i := range findings {
		findings[i].SourceStage = ToolsName
	}
	return toolResult{findings: findings}
}

// plan lists the invocations in (category, key, file) order. Tools without
// a command template are logged and skipped, as are files without a path.
func plan(cfg *config.Config, files []review.ChangedFile, log *zap.Logger) []toolJob {
	var jobs []toolJob
	for _, ref := range cfg.Tools.Refs() {
		spec, err := cfg.ToolSpec(ref.Category, ref.Key)
		if err != nil {
			log.Error("skipping tool", zap.Error(err))
			continue
		}
		if spec.Target == config.TargetProject {
			if projectApplies(spec, files) {
				jobs = append(jobs, toolJob{spec: spec})
			}
			continue
		}
		for _, f := range files {
			if f.Path == "" {
				log.Warn("skipping file without a path", zap.String("tool", spec.ID()))
				continue
			}
			if spec.AppliesTo(f.Language) {
				jobs = append(jobs, toolJob{spec: spec, target: f.Path})
			}
		}
	}
	return jobs
}

// projectApplies reports whether any changed file matches the tool's
// language filter.
func projectApplies(spec config.ToolSpec, files []review.ChangedFile) bool {
	if len(spec.Languages) == 0 {
		return true
	}
	for _, f := range files {
		if spec.AppliesTo(f.Language) {
			return true
		}
	}
	return false
}

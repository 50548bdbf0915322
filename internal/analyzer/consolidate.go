package analyzer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/gauntlet/internal/config"
	"github.com/dshills/gauntlet/internal/pipeline"
	"github.com/dshills/gauntlet/internal/review"
)

// DefaultConsolidatorName is used when the consolidate block has no name.
const DefaultConsolidatorName = "consolidate"

const consolidateTemperature = 0.2

// Consolidator reviews all prior findings in one request and replaces
// them with the refined list. It must be registered as a consolidation
// stage.
type Consolidator struct {
	sc       config.StageConfig
	model    string
	analyzer config.AnalyzerConfig
	deps     Deps
	prompts  *Prompts
}

// NewConsolidator returns the consolidation stage described by sc.
func NewConsolidator(cfg *config.Config, sc config.StageConfig, deps Deps) (*Consolidator, error) {
	if sc.Name == "" {
		sc.Name = DefaultConsolidatorName
	}
	model := sc.Model
	if model == "" && cfg != nil {
		model = cfg.Analyzer.Model
	}
	if model == "" {
		return nil, fmt.Errorf("stage %s: no model configured: %w", sc.Name, pipeline.ErrMissingDependency)
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("stage %s: no analyzer client: %w", sc.Name, pipeline.ErrMissingDependency)
	}
	prompts, err := LoadPrompts(cfg, sc.Name, sc.Prompt, "", consolidateSystemPrompt, consolidateUserPrompt)
	if err != nil {
		return nil, err
	}
	c := &Consolidator{sc: sc, model: model, deps: deps, prompts: prompts}
	if cfg != nil {
		c.analyzer = cfg.Analyzer
	}
	return c, nil
}

// Name returns the configured stage name.
func (c *Consolidator) Name() string { return c.sc.Name }

// Run sends the accumulated findings to the model. With nothing to
// consolidate the findings are left untouched. A failed or unparseable
// reply returns an error, so the prior findings survive.
func (c *Consolidator) Run(ctx context.Context, rc pipeline.RunContext) (pipeline.Outcome, error) {
	prior := rc.Prior.Findings
	if len(prior) == 0 {
		rc.Logger.Debug("no findings to consolidate")
		return pipeline.Outcome{}, nil
	}

	paths := make([]string, 0, len(rc.Files))
	for _, f := range rc.Files {
		paths = append(paths, f.Path)
	}
	text, _ := c.deps.Redactor.Text(describeFindings(prior))
	system, user, err := c.prompts.Render(ConsolidateVars{
		Stage:    c.sc.Name,
		Files:    paths,
		Count:    len(prior),
		Findings: text,
	})
	if err != nil {
		return pipeline.Outcome{}, err
	}

	items, err := complete(ctx, c.deps, Request{
		Model:       c.model,
		System:      system,
		User:        user,
		MaxTokens:   c.analyzer.MaxTokens,
		Temperature: consolidateTemperature,
	}, c.sc.Name, rc.Logger)
	if err != nil {
		return pipeline.Outcome{}, fmt.Errorf("consolidating %d findings: %w", len(prior), err)
	}

	findings, skipped := consolidatedFindings(c.sc.Name, items)
	if skipped > 0 {
		rc.Logger.Warn("skipped incomplete consolidated findings", zap.Int("skipped", skipped))
	}
	review.SortFindings(findings)
	rc.Logger.Info("findings consolidated",
		zap.Int("before", len(prior)),
		zap.Int("after", len(findings)),
	)
	return pipeline.Outcome{Findings: findings, Replace: true}, nil
}

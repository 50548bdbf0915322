package analyzer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/gauntlet/internal/cache"
	"github.com/dshills/gauntlet/internal/config"
	"github.com/dshills/gauntlet/internal/pipeline"
	"github.com/dshills/gauntlet/internal/redact"
	"github.com/dshills/gauntlet/internal/review"
)

// Deps are the collaborators shared by model-backed stages.
type Deps struct {
	Client   Completer
	Cache    *cache.Cache
	Redactor *redact.Redactor
}

// Stage reviews each matching file with a model.
type Stage struct {
	sc       config.StageConfig
	model    string
	analyzer config.AnalyzerConfig
	deps     Deps
}

// NewStage returns an analyzer stage for sc. It fails with
// pipeline.ErrMissingDependency when no model or client is available.
func NewStage(cfg *config.Config, sc config.StageConfig, deps Deps) (*Stage, error) {
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
	s := &Stage{sc: sc, model: model, deps: deps}
	if cfg != nil {
		s.analyzer = cfg.Analyzer
		// Surface template errors at graph build time.
		if _, err := LoadPrompts(cfg, sc.Name, sc.Prompt, "", defaultSystemPrompt, defaultUserPrompt); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Name returns the configured stage name.
func (s *Stage) Name() string { return s.sc.Name }

// Model returns the model the stage sends prompts to.
func (s *Stage) Model() string { return s.model }

// Run reviews every file that matches the stage's language filter. A
// failure on one file is recorded and the remaining files are still
// reviewed; only cancellation aborts the stage.
func (s *Stage) Run(ctx context.Context, rc pipeline.RunContext) (pipeline.Outcome, error) {
	var out pipeline.Outcome
	toolFindings := byFile(rc.Prior.Findings)
	prompts := map[string]*Prompts{}

	for _, f := range rc.Files {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if !s.applies(f) {
			continue
		}
		log := rc.Logger.With(zap.String("file", f.Path))
		if limit := s.analyzer.MaxFileBytes; limit > 0 && len(f.Content) > limit {
			log.Warn("file too large for analyzer; skipped", zap.Int("bytes", len(f.Content)), zap.Int("max_bytes", limit))
			continue
		}
		if strings.TrimSpace(f.Content) == "" {
			continue
		}

		p, ok := prompts[f.Language]
		if !ok {
			var err error
			p, err = LoadPrompts(rc.Config, s.sc.Name, s.sc.Prompt, f.Language, defaultSystemPrompt, defaultUserPrompt)
			if err != nil {
				return out, err
			}
			prompts[f.Language] = p
		}

		findings, err := s.reviewFile(ctx, p, f, toolFindings[f.Path], log)
		if err != nil {
			if ctx.Err() != nil {
				return out, err
			}
			out.Errors = append(out.Errors, fmt.Sprintf("stage %s: %s: %v", s.sc.Name, f.Path, err))
			log.Error("analyzer failed", zap.Error(err))
			continue
		}
		out.Findings = append(out.Findings, findings...)
	}
	review.SortFindings(out.Findings)
	return out, nil
}

func (s *Stage) applies(f review.ChangedFile) bool {
	if len(s.sc.Languages) == 0 {
		return true
	}
	for _, l := range s.sc.Languages {
		if strings.EqualFold(l, f.Language) {
			return true
		}
	}
	return false
}

func (s *Stage) reviewFile(ctx context.Context, p *Prompts, f review.ChangedFile, prior []review.Finding, log *zap.Logger) ([]review.Finding, error) {
	safe, red := s.deps.Redactor.File(f)
	if red.Withheld {
		log.Info("file withheld by path policy")
		return nil, nil
	}
	if n := red.Total(); n > 0 {
		log.Info("redacted secrets before analysis", zap.Int("redactions", n))
	}

	system, user, err := p.Render(FileVars{
		Stage:        s.sc.Name,
		Path:         safe.Path,
		Language:     safe.Language,
		Content:      safe.Content,
		Numbered:     numberLines(safe.Content),
		ToolFindings: describeFindings(prior),
		OutputFormat: outputFormat,
	})
	if err != nil {
		return nil, err
	}

	lines := strings.Count(strings.TrimRight(safe.Content, "\n"), "\n") + 1
	items, err := complete(ctx, s.deps, Request{
		Model:       s.model,
		System:      system,
		User:        user,
		MaxTokens:   s.analyzer.MaxTokens,
		Temperature: s.analyzer.Temperature,
	}, s.sc.Name, log)
	if err != nil {
		return nil, err
	}
	findings, skipped := fileFindings(s.sc.Name, f.Path, lines, items)
	if skipped > 0 {
		log.Warn("skipped analyzer items without a message", zap.Int("skipped", skipped))
	}
	return findings, nil
}

// complete sends req, consulting the cache first. A reply that is not
// valid JSON gets one repair request; only a parseable reply is cached.
func complete(ctx context.Context, deps Deps, req Request, stage string, log *zap.Logger) ([]map[string]any, error) {
	key := cache.Key(stage, req.Model, req.System, req.User)
	if cached, ok := deps.Cache.Get(key); ok {
		if items, err := decodeItems(cached); err == nil {
			log.Debug("analyzer cache hit")
			return items, nil
		}
	}

	reply, err := deps.Client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	items, err := decodeItems(reply)
	if err != nil {
		log.Warn("analyzer reply is not valid JSON; requesting repair", zap.Error(err))
		repair := req
		repair.User = fmt.Sprintf(
			"Your previous response was not valid JSON. The error was: %s\n\nRespond with ONLY a valid JSON array.\n\nYour previous response was:\n%s",
			err, reply,
		)
		reply2, err2 := deps.Client.Complete(ctx, repair)
		if err2 != nil {
			return nil, fmt.Errorf("repair request failed: %w (original error: %v)", err2, err)
		}
		items, err = decodeItems(reply2)
		if err != nil {
			return nil, fmt.Errorf("reply invalid after repair: %w", err)
		}
		reply = reply2
	}
	if err := deps.Cache.Put(key, stage, reply); err != nil {
		log.Warn("caching analyzer reply", zap.Error(err))
	}
	return items, nil
}

func byFile(findings []review.Finding) map[string][]review.Finding {
	m := make(map[string][]review.Finding)
	for _, f := range findings {
		m[f.FilePath] = append(m[f.FilePath], f)
	}
	return m
}

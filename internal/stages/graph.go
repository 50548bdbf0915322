package stages

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/gauntlet/internal/config"
	"github.com/dshills/gauntlet/internal/logging"
	"github.com/dshills/gauntlet/internal/pipeline"
	"github.com/dshills/gauntlet/internal/toolrun"
)

// Factory builds a model-backed stage from its configuration. Returning an
// error wrapping pipeline.ErrMissingDependency leaves the stage out of the
// graph.
type Factory func(cfg *config.Config, sc config.StageConfig) (pipeline.Stage, error)

// Options supplies the collaborators of the default graph.
type Options struct {
	// Runner backs the tools stage. Nil leaves the stage out.
	Runner *toolrun.Runner
	// Analyzer builds each enabled entry of cfg.Stages.
	Analyzer Factory
	// Consolidator builds cfg.Consolidate when present.
	Consolidator Factory
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Omitted names a configured stage that was left out of the graph.
type Omitted struct {
	Name   string
	Reason string
}

var reserved = map[string]bool{
	PrepareName: true,
	ToolsName:   true,
	ReportName:  true,
}

// BuildGraph assembles prepare → tools → analyzers → consolidate → report.
// Stages that are disabled or whose dependency is missing are returned in
// the omitted list instead of being added.
func BuildGraph(cfg *config.Config, opts Options) (*pipeline.Graph, []Omitted, error) {
	log := logging.OrNop(opts.Logger)
	g := pipeline.NewGraph().
		AddStage(Prepare{}).
		SetEntry(PrepareName).
		SetTerminal(ReportName)

	var chain []string
	var omitted []Omitted
	if opts.Runner != nil {
		g.AddStage(NewTools(opts.Runner))
		chain = append(chain, ToolsName)
	} else {
		omitted = append(omitted, Omitted{Name: ToolsName, Reason: "no tool runner"})
	}

	add := func(sc config.StageConfig, factory Factory, extra ...pipeline.StageOption) error {
		if !sc.IsEnabled() {
			omitted = append(omitted, Omitted{Name: sc.Name, Reason: "disabled"})
			return nil
		}
		if reserved[sc.Name] {
			return fmt.Errorf("stage name %q is reserved", sc.Name)
		}
		if g.HasStage(sc.Name) {
			return fmt.Errorf("duplicate stage name %q", sc.Name)
		}
		if factory == nil {
			omitted = append(omitted, Omitted{Name: sc.Name, Reason: "no stage factory"})
			return nil
		}
		st, err := factory(cfg, sc)
		if errors.Is(err, pipeline.ErrMissingDependency) {
			log.Warn("stage left out of pipeline", zap.String("stage", sc.Name), zap.Error(err))
			omitted = append(omitted, Omitted{Name: sc.Name, Reason: err.Error()})
			return nil
		}
		if err != nil {
			return err
		}
		if sc.When != "" {
			extra = append(extra, pipeline.When(sc.When))
		}
		g.AddStage(st, extra...)
		chain = append(chain, st.Name())
		return nil
	}

	if cfg != nil {
		for _, sc := range cfg.Stages {
			if err := add(sc, opts.Analyzer); err != nil {
				return nil, omitted, err
			}
		}
		if cfg.Consolidate != nil {
			sc := *cfg.Consolidate
			if sc.Name == "" {
				sc.Name = ConsolidateName
			}
			if err := add(sc, opts.Consolidator, pipeline.Consolidation()); err != nil {
				return nil, omitted, err
			}
		}
	}

	g.AddStage(NewReport(opts.Clock))

	first := ReportName
	if len(chain) > 0 {
		first = chain[0]
	}
	g.AddConditionalEdges(PrepareName, NoFiles, map[string]string{
		RouteFiles: first,
		RouteEmpty: ReportName,
	})
	for i := 0; i+1 < len(chain); i++ {
		g.AddEdge(chain[i], chain[i+1])
	}
	if len(chain) > 0 {
		g.AddEdge(chain[len(chain)-1], ReportName)
	}

	log.Debug("pipeline graph built", zap.Strings("stages", append([]string{PrepareName}, append(chain, ReportName)...)))
	return g, omitted, nil
}

// Build assembles and compiles the default graph. The config and logger are
// passed to the pipeline ahead of popts.
func Build(cfg *config.Config, opts Options, popts ...pipeline.Option) (*pipeline.Pipeline, []Omitted, error) {
	g, omitted, err := BuildGraph(cfg, opts)
	if err != nil {
		return nil, omitted, err
	}
	all := append([]pipeline.Option{pipeline.WithConfig(cfg), pipeline.WithLogger(opts.Logger)}, popts...)
	p, err := g.Compile(all...)
	if err != nil {
		return nil, omitted, err
	}
	return p, omitted, nil
}

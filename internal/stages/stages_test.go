package stages

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dshills/gauntlet/internal/config"
	"github.com/dshills/gauntlet/internal/pipeline"
	"github.com/dshills/gauntlet/internal/review"
	"github.com/dshills/gauntlet/internal/sarif"
	"github.com/dshills/gauntlet/internal/toolrun"
)

const pylintOneWarning = `sh -c 'echo "[{\"type\": \"warning\", \"line\": 1, \"column\": 0, \"path\": \"a.py\", \"symbol\": \"unused-variable\", \"message\": \"Unused variable x\", \"message-id\": \"W0612\"}]"'`

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script tools need a POSIX sh")
	}
}

func newConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace = t.TempDir()
	cfg.Concurrency = 2
	return &cfg
}

// staticStage reports the given findings for every run.
func staticStage(name string, findings ...review.Finding) pipeline.Stage {
	return pipeline.StageFunc{StageName: name, Fn: func(context.Context, pipeline.RunContext) (pipeline.Outcome, error) {
		return pipeline.Outcome{Findings: findings}, nil
	}}
}

// factory serves stages from a table keyed by stage name.
func factory(table map[string]pipeline.Stage) Factory {
	return func(_ *config.Config, sc config.StageConfig) (pipeline.Stage, error) {
		st, ok := table[sc.Name]
		if !ok {
			return nil, fmt.Errorf("stage %s: %w", sc.Name, pipeline.ErrMissingDependency)
		}
		return st, nil
	}
}

func build(t *testing.T, cfg *config.Config, opts Options) *pipeline.Pipeline {
	t.Helper()
	p, _, err := Build(cfg, opts)
	require.NoError(t, err)
	return p
}

func pyFile() []review.ChangedFile {
	return []review.ChangedFile{{Path: "a.py", Content: "x=1"}}
}

func TestPipeline_EmptyInput(t *testing.T) {
	cfg := newConfig(t)
	cfg.Tools = config.ToolTable{"linters": {"python": {Command: "sh -c 'exit 1'"}}}
	cfg.Stages = []config.StageConfig{{Name: "bugs"}}
	p := build(t, cfg, Options{
		Runner:   toolrun.New(cfg, nil),
		Analyzer: factory(map[string]pipeline.Stage{"bugs": staticStage("bugs")}),
	})

	st := p.Run(context.Background(), pipeline.NewState(nil))
	require.NotNil(t, st.Report)
	assert.Empty(t, st.Report.Results())
	assert.Empty(t, st.Errors)
	assert.True(t, st.Report.Run().Invocations[0].ExecutionSuccessful)
	assert.Equal(t, []string{PrepareName, ReportName}, st.Visited)
}

func TestPipeline_SingleLinter(t *testing.T) {
	requireShell(t)
	cfg := newConfig(t)
	cfg.Tools = config.ToolTable{"linters": {"python": {
		Command:   pylintOneWarning,
		Parser:    "pylint",
		Languages: []string{"python"},
	}}}
	p := build(t, cfg, Options{Runner: toolrun.New(cfg, nil)})

	st := p.Run(context.Background(), pipeline.NewState(pyFile()))
	require.Empty(t, st.Errors)
	results := st.Report.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "W0612", results[0].RuleID)
	assert.Equal(t, "warning", results[0].Level)
	assert.Equal(t, 1, results[0].Locations[0].PhysicalLocation.Region.StartLine)
	assert.Equal(t, []review.Finding{st.ToolResults["linters"]["python"][0]}, st.Findings)
	assert.Equal(t, "python", st.Files[0].Language)
	assert.True(t, st.Report.Run().Invocations[0].ExecutionSuccessful)
}

func TestPipeline_TwoStagesSameLine(t *testing.T) {
	requireShell(t)
	cfg := newConfig(t)
	cfg.Tools = config.ToolTable{"linters": {"python": {Command: pylintOneWarning, Parser: "pylint"}}}
	cfg.Stages = []config.StageConfig{{Name: "bugs"}}
	bug := review.Finding{FilePath: "a.py", LineStart: 1, RuleID: "bugs.shadowing", Message: "x shadows a builtin", Level: "medium", SourceStage: "bugs"}
	p := build(t, cfg, Options{
		Runner:   toolrun.New(cfg, nil),
		Analyzer: factory(map[string]pipeline.Stage{"bugs": staticStage("bugs", bug)}),
	})

	st := p.Run(context.Background(), pipeline.NewState(pyFile()))
	require.Empty(t, st.Errors)
	run := st.Report.Run()
	require.Len(t, run.Artifacts, 1)
	require.Len(t, run.Results, 2)
	assert.Equal(t, "W0612", run.Results[0].RuleID)
	assert.Equal(t, "bugs.shadowing", run.Results[1].RuleID)
	for _, r := range run.Results {
		require.NotNil(t, r.Locations[0].PhysicalLocation.ArtifactLocation.Index)
		assert.Equal(t, 0, *r.Locations[0].PhysicalLocation.ArtifactLocation.Index)
	}
	assert.Len(t, run.Tool.Driver.Rules, 2)
}

func TestPipeline_FailureIsolation(t *testing.T) {
	cfg := newConfig(t)
	cfg.Stages = []config.StageConfig{{Name: "a"}, {Name: "b"}}
	found := review.Finding{FilePath: "a.py", LineStart: 1, RuleID: "a.rule", Message: "m", Level: "error"}
	broken := pipeline.StageFunc{StageName: "b", Fn: func(context.Context, pipeline.RunContext) (pipeline.Outcome, error) {
		return pipeline.Outcome{Findings: []review.Finding{found}}, errors.New("model unavailable")
	}}
	p := build(t, cfg, Options{Analyzer: factory(map[string]pipeline.Stage{"a": staticStage("a", found), "b": broken})})

	st := p.Run(context.Background(), pipeline.NewState(pyFile()))
	assert.Equal(t, []string{"stage b: model unavailable"}, st.Errors)
	assert.Len(t, st.Findings, 1)
	assert.Len(t, st.Report.Results(), 1)

	inv := st.Report.Run().Invocations[0]
	assert.False(t, inv.ExecutionSuccessful)
	require.Len(t, inv.ToolExecutionNotifications, 1)
	assert.Equal(t, "stage b: model unavailable", inv.ToolExecutionNotifications[0].Message.Text)
	assert.Equal(t, []string{PrepareName, "a", "b", ReportName}, st.Visited)
}

func TestPipeline_MalformedFindingDropped(t *testing.T) {
	cfg := newConfig(t)
	cfg.Stages = []config.StageConfig{{Name: "a"}}
	bad := review.Finding{FilePath: "a.py", LineStart: 0, RuleID: "a.rule", Message: "m"}
	good := review.Finding{FilePath: "a.py", LineStart: 2, RuleID: "a.rule", Message: "m"}
	p := build(t, cfg, Options{Analyzer: factory(map[string]pipeline.Stage{"a": staticStage("a", bad, good)})})

	st := p.Run(context.Background(), pipeline.NewState(pyFile()))
	require.Len(t, st.Errors, 1)
	assert.Contains(t, st.Errors[0], "report: dropped finding a.rule at a.py:0")
	assert.Len(t, st.Report.Results(), 1)
	inv := st.Report.Run().Invocations[0]
	assert.False(t, inv.ExecutionSuccessful)
	require.Len(t, inv.ToolExecutionNotifications, 1)
	assert.Equal(t, "warning", inv.ToolExecutionNotifications[0].Level)
}

func TestPipeline_Consolidation(t *testing.T) {
	cfg := newConfig(t)
	cfg.Stages = []config.StageConfig{{Name: "a"}, {Name: "b"}}
	cfg.Consolidate = &config.StageConfig{}
	f1 := review.Finding{FilePath: "a.py", LineStart: 1, RuleID: "a.rule", Message: "one", Level: "warning"}
	f2 := review.Finding{FilePath: "a.py", LineStart: 1, RuleID: "b.rule", Message: "same issue", Level: "warning"}
	merged := review.Finding{FilePath: "a.py", LineStart: 1, RuleID: "a.rule", Message: "merged", Level: "error", SourceStage: ConsolidateName}

	var seen int
	consolidate := pipeline.StageFunc{StageName: ConsolidateName, Fn: func(_ context.Context, rc pipeline.RunContext) (pipeline.Outcome, error) {
		seen = len(rc.Prior.Findings)
		return pipeline.Outcome{Findings: []review.Finding{merged}, Replace: true}, nil
	}}
	p := build(t, cfg, Options{
		Analyzer:     factory(map[string]pipeline.Stage{"a": staticStage("a", f1), "b": staticStage("b", f2)}),
		Consolidator: factory(map[string]pipeline.Stage{ConsolidateName: consolidate}),
	})

	st := p.Run(context.Background(), pipeline.NewState(pyFile()))
	require.Empty(t, st.Errors)
	assert.Equal(t, 2, seen)
	assert.Equal(t, []review.Finding{merged}, st.Findings)
	require.Len(t, st.Report.Results(), 1)
	assert.Equal(t, "merged", st.Report.Results()[0].Message.Text)
}

func TestBuildGraph_Omissions(t *testing.T) {
	cfg := newConfig(t)
	off := false
	cfg.Stages = []config.StageConfig{
		{Name: "present"},
		{Name: "nomodel"},
		{Name: "disabled", Enabled: &off},
	}
	cfg.Consolidate = &config.StageConfig{Name: "judge"}

	p, omitted, err := Build(cfg, Options{Analyzer: factory(map[string]pipeline.Stage{"present": staticStage("present")})})
	require.NoError(t, err)
	assert.Equal(t, []string{PrepareName, "present", ReportName}, p.Stages())

	names := make([]string, 0, len(omitted))
	for _, o := range omitted {
		names = append(names, o.Name)
	}
	assert.Equal(t, []string{ToolsName, "nomodel", "disabled", "judge"}, names)
}

func TestBuildGraph_Errors(t *testing.T) {
	tests := []struct {
		name    string
		stages  []config.StageConfig
		factory Factory
		wantErr string
	}{
		{
			name:    "reserved name",
			stages:  []config.StageConfig{{Name: ReportName}},
			factory: factory(nil),
			wantErr: `stage name "report" is reserved`,
		},
		{
			name:    "factory error",
			stages:  []config.StageConfig{{Name: "bugs"}},
			factory: func(*config.Config, config.StageConfig) (pipeline.Stage, error) { return nil, errors.New("bad template") },
			wantErr: "bad template",
		},
		{
			name:    "invalid guard",
			stages:  []config.StageConfig{{Name: "bugs", When: "file_count >"}},
			factory: factory(map[string]pipeline.Stage{"bugs": staticStage("bugs")}),
			wantErr: `stage "bugs"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newConfig(t)
			cfg.Stages = tt.stages
			_, _, err := Build(cfg, Options{Analyzer: tt.factory})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPipeline_WhenGuard(t *testing.T) {
	cfg := newConfig(t)
	cfg.Stages = []config.StageConfig{
		{Name: "python_only", When: `"python" in languages`},
		{Name: "big_changes", When: "file_count > 5"},
	}
	hit := review.Finding{FilePath: "a.py", LineStart: 1, RuleID: "py.rule", Message: "m"}
	p := build(t, cfg, Options{Analyzer: factory(map[string]pipeline.Stage{
		"python_only": staticStage("python_only", hit),
		"big_changes": staticStage("big_changes", hit),
	})})

	st := p.Run(context.Background(), pipeline.NewState(pyFile()))
	assert.Empty(t, st.Errors)
	assert.Equal(t, []string{"big_changes"}, st.Skipped)
	assert.Len(t, st.Findings, 1)
}

func TestPrepare_NormalizesPaths(t *testing.T) {
	files := []review.ChangedFile{
		{Path: "./src/../src/app.py"},
		{Path: "web/index.ts", Language: "typescript-react"},
	}
	out, err := Prepare{}.Run(context.Background(), pipeline.RunContext{Files: files, Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, "src/app.py", out.Files[0].Path)
	assert.Equal(t, "python", out.Files[0].Language)
	assert.Equal(t, "typescript-react", out.Files[1].Language)
}

func TestReport_WithoutConfig(t *testing.T) {
	out, err := NewReport(nil).Run(context.Background(), pipeline.RunContext{Logger: zap.NewNop()})
	assert.Nil(t, out.Report)
	assert.ErrorIs(t, err, sarif.ErrNoToolName)
}

func TestTools_WithoutConfig(t *testing.T) {
	cfg := newConfig(t)
	cfg.Tools = config.ToolTable{"linters": {"python": {Command: pylintOneWarning, Parser: "pylint"}}}
	tools := NewTools(toolrun.New(cfg, nil))

	out, err := tools.Run(context.Background(), pipeline.RunContext{Files: pyFile(), Logger: zap.NewNop()})
	assert.ErrorIs(t, err, pipeline.ErrMissingDependency)
	assert.Empty(t, out.Findings)
}

func TestPipeline_ToolsWithoutConfigRecordsError(t *testing.T) {
	requireShell(t)
	cfg := newConfig(t)
	cfg.Tools = config.ToolTable{"linters": {"python": {Command: pylintOneWarning, Parser: "pylint"}}}
	g, _, err := BuildGraph(cfg, Options{Runner: toolrun.New(cfg, nil)})
	require.NoError(t, err)
	p, err := g.Compile()
	require.NoError(t, err)

	st := p.Run(context.Background(), pipeline.NewState(pyFile()))
	require.NotNil(t, st.Report)
	assert.Contains(t, st.Errors, "stage tools: configuration: "+pipeline.ErrMissingDependency.Error())
	assert.Empty(t, st.Findings)
}

// lintEachFile reports two findings per file, lines 3 then 1, and is
// slowest on a.py.
const lintEachFile = `sh -c 'case "{relative_file_path}" in a.py) sleep 0.3 ;; esac; echo "[{\"type\": \"warning\", \"line\": 3, \"column\": 0, \"path\": \"{relative_file_path}\", \"symbol\": \"late\", \"message\": \"in {relative_file_path}\", \"message-id\": \"W0002\"}, {\"type\": \"warning\", \"line\": 1, \"column\": 0, \"path\": \"{relative_file_path}\", \"symbol\": \"early\", \"message\": \"in {relative_file_path}\", \"message-id\": \"W0001\"}]"'`

func TestPipeline_ParallelToolsKeepAttributionAndOrder(t *testing.T) {
	requireShell(t)
	cfg := newConfig(t)
	cfg.Concurrency = 3
	cfg.Tools = config.ToolTable{"linters": {"python": {
		Command:   lintEachFile,
		Parser:    "pylint",
		Languages: []string{"python"},
	}}}
	p := build(t, cfg, Options{Runner: toolrun.New(cfg, nil)})

	files := []review.ChangedFile{
		{Path: "c.py", Content: "x=1"},
		{Path: "a.py", Content: "x=1"},
		{Path: "b.py", Content: "x=1"},
	}
	st := p.Run(context.Background(), pipeline.NewState(files))
	require.Empty(t, st.Errors)
	require.Len(t, st.Findings, 6)

	type loc struct {
		file string
		line int
	}
	var got []loc
	for _, f := range st.Findings {
		assert.Equal(t, "in "+f.FilePath, f.Message)
		got = append(got, loc{f.FilePath, f.LineStart})
	}
	assert.Equal(t, []loc{
		{"a.py", 1}, {"a.py", 3},
		{"b.py", 1}, {"b.py", 3},
		{"c.py", 1}, {"c.py", 3},
	}, got)

	results := st.Report.Results()
	require.Len(t, results, 6)
	assert.Equal(t, "W0001", results[0].RuleID)
	assert.Equal(t, "a.py", results[0].Locations[0].PhysicalLocation.ArtifactLocation.URI)
}

func TestPrepare_KeepsEmptyPathEmpty(t *testing.T) {
	files := []review.ChangedFile{{Path: ""}, {Path: "a.py"}}
	out, err := Prepare{}.Run(context.Background(), pipeline.RunContext{Files: files, Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, "", out.Files[0].Path)
	assert.Equal(t, "a.py", out.Files[1].Path)

	cfg := newConfig(t)
	cfg.Tools = config.ToolTable{"linters": {"python": {Command: "lint {file_path}"}}}
	jobs := plan(cfg, out.Files, zap.NewNop())
	require.Len(t, jobs, 1)
	assert.Equal(t, "a.py", jobs[0].target)
}

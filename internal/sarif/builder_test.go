package sarif

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gauntlet/internal/review"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestBuilder(t *testing.T, root string) *Builder {
	t.Helper()
	b, err := NewBuilder(Options{
		ToolName:      "gauntlet",
		ToolVersion:   "1.2.3",
		WorkspaceRoot: root,
		Clock:         func() time.Time { return fixedTime },
	})
	require.NoError(t, err)
	return b
}

func TestNewBuilder_RequiresToolName(t *testing.T) {
	_, err := NewBuilder(Options{ToolName: "  "})
	assert.ErrorIs(t, err, ErrNoToolName)
}

func TestBuilder_EmptyReport(t *testing.T) {
	b := newTestBuilder(t, "")
	b.SetInvocationStatus(true, "")
	log := b.Report()

	assert.Equal(t, Version, log.Version)
	assert.Equal(t, SchemaURI, log.Schema)
	require.Len(t, log.Runs, 1)
	run := log.Runs[0]
	assert.Equal(t, "gauntlet", run.Tool.Driver.Name)
	assert.Empty(t, run.Results)
	assert.Empty(t, run.Artifacts)
	require.Len(t, run.Invocations, 1)
	assert.True(t, run.Invocations[0].ExecutionSuccessful)
	assert.Equal(t, "2026-03-01T12:00:00Z", run.Invocations[0].StartTimeUTC)
	assert.Equal(t, "2026-03-01T12:00:00Z", run.Invocations[0].EndTimeUTC)

	data, err := log.Marshal()
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	runs := raw["runs"].([]any)
	first := runs[0].(map[string]any)
	assert.Equal(t, []any{}, first["results"], "results must serialize as an empty list, not null")
}

func TestBuilder_DedupArtifactsAndRules(t *testing.T) {
	b := newTestBuilder(t, "")
	require.NoError(t, b.AddFinding(FindingInput{FilePath: "src/a.py", Message: "one", RuleID: "R1", Level: "warning", LineStart: 1}))
	require.NoError(t, b.AddFinding(FindingInput{FilePath: "src/a.py", Message: "two", RuleID: "R1", Level: "error", LineStart: 5}))

	run := b.Report().Runs[0]
	assert.Len(t, run.Artifacts, 1)
	assert.Len(t, run.Tool.Driver.Rules, 1)
	require.Len(t, run.Results, 2)
	for _, r := range run.Results {
		idx := r.Locations[0].PhysicalLocation.ArtifactLocation.Index
		require.NotNil(t, idx)
		assert.Equal(t, 0, *idx)
	}
	// First definition wins.
	assert.Equal(t, "warning", run.Tool.Driver.Rules[0].DefaultConfiguration.Level)
}

func TestBuilder_PathNormalization(t *testing.T) {
	root := filepath.FromSlash("/ws")
	if filepath.VolumeName(t.TempDir()) != "" {
		root = t.TempDir()
	}
	b := newTestBuilder(t, root)

	require.NoError(t, b.AddFinding(FindingInput{FilePath: filepath.Join(root, "src", "a.py"), Message: "abs", RuleID: "R1", LineStart: 1}))
	require.NoError(t, b.AddFinding(FindingInput{FilePath: "src/a.py", Message: "rel", RuleID: "R2", LineStart: 2}))
	require.NoError(t, b.AddFinding(FindingInput{FilePath: "./src/a.py", Message: "dot", RuleID: "R3", LineStart: 3}))

	run := b.Report().Runs[0]
	require.Len(t, run.Artifacts, 1)
	assert.Equal(t, "src/a.py", run.Artifacts[0].Location.URI)
	assert.Equal(t, "SRCROOT", run.Artifacts[0].Location.URIBaseID)
	assert.Contains(t, run.OriginalURIBaseIDs, "SRCROOT")
	for _, r := range run.Results {
		loc := r.Locations[0].PhysicalLocation.ArtifactLocation
		assert.Equal(t, "src/a.py", loc.URI)
		assert.Equal(t, 0, *loc.Index)
	}
}

func TestBuilder_PathOutsideRoot(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	b := newTestBuilder(t, root)
	require.NoError(t, b.AddFinding(FindingInput{FilePath: filepath.Join(other, "x.go"), Message: "m", RuleID: "R", LineStart: 1}))

	art := b.Report().Runs[0].Artifacts[0].Location
	assert.Empty(t, art.URIBaseID)
	assert.Contains(t, art.URI, "file://")
}

func TestBuilder_NoRootNoBaseID(t *testing.T) {
	b := newTestBuilder(t, "")
	require.NoError(t, b.AddFinding(FindingInput{FilePath: "a.py", Message: "m", RuleID: "R", LineStart: 1}))
	run := b.Report().Runs[0]
	assert.Empty(t, run.Artifacts[0].Location.URIBaseID)
	assert.Nil(t, run.OriginalURIBaseIDs)
}

func TestBuilder_SeverityMapping(t *testing.T) {
	tests := map[string]string{
		"critical": "error", "error": "error", "HIGH": "error",
		"warning": "warning", "medium": "warning",
		"note": "note", "info": "note", "information": "note", "low": "note",
		"none": "none", "bogus": "note", "": "note",
	}
	for in, want := range tests {
		b := newTestBuilder(t, "")
		require.NoError(t, b.AddFinding(FindingInput{FilePath: "a", Message: "m", RuleID: "R", Level: in, LineStart: 1}))
		assert.Equal(t, want, b.Report().Runs[0].Results[0].Level, "level %q", in)
	}
}

func TestBuilder_RuleDefaults(t *testing.T) {
	b := newTestBuilder(t, "")
	require.NoError(t, b.AddFinding(FindingInput{FilePath: "a", Message: "m", RuleID: "no_bare_except", LineStart: 1}))
	require.NoError(t, b.AddFinding(FindingInput{
		FilePath: "a", Message: "m", RuleID: "custom", LineStart: 1,
		Rule: &RuleMeta{Name: "Custom", ShortDescription: "Short", FullDescription: "Full", HelpURI: "https://x"},
	}))

	rules := b.Report().Runs[0].Tool.Driver.Rules
	require.Len(t, rules, 2)
	assert.Equal(t, "No Bare Except", rules[0].Name)
	assert.Equal(t, "Finding reported by rule 'no_bare_except'.", rules[0].ShortDescription.Text)
	assert.Nil(t, rules[0].FullDescription)

	assert.Equal(t, "Custom", rules[1].Name)
	assert.Equal(t, "Short", rules[1].ShortDescription.Text)
	assert.Equal(t, "Full", rules[1].FullDescription.Text)
	assert.Equal(t, "https://x", rules[1].HelpURI)
}

func TestBuilder_Region(t *testing.T) {
	b := newTestBuilder(t, "")
	require.NoError(t, b.AddFinding(FindingInput{
		FilePath: "a", Message: "m", RuleID: "R",
		LineStart: 3, LineEnd: 5, ColumnStart: 2, ColumnEnd: 9, Snippet: "x = 1",
	}))
	require.NoError(t, b.AddFinding(FindingInput{FilePath: "a", Message: "m", RuleID: "R", LineStart: 7, LineEnd: 2}))

	results := b.Report().Runs[0].Results
	r := results[0].Locations[0].PhysicalLocation.Region
	assert.Equal(t, Region{StartLine: 3, EndLine: 5, StartColumn: 2, EndColumn: 9, Snippet: &ArtifactContent{Text: "x = 1"}}, r)

	assert.Equal(t, 0, results[1].Locations[0].PhysicalLocation.Region.EndLine, "inverted end line is dropped")
}

func TestBuilder_AddFindingRejectsMalformed(t *testing.T) {
	b := newTestBuilder(t, "")
	cases := []FindingInput{
		{Message: "m", RuleID: "R", LineStart: 1},
		{FilePath: "a", RuleID: "R", LineStart: 1},
		{FilePath: "a", Message: "m", LineStart: 1},
		{FilePath: "a", Message: "m", RuleID: "R", LineStart: 0},
	}
	for _, c := range cases {
		err := b.AddFinding(c)
		assert.True(t, review.IsMalformed(err), "input %+v", c)
	}
	assert.Equal(t, 0, b.ResultCount())
	assert.Empty(t, b.Report().Runs[0].Artifacts)
}

func TestBuilder_AddReviewFinding(t *testing.T) {
	b := newTestBuilder(t, "")
	f := review.Finding{
		FilePath:        "a.py",
		LineStart:       4,
		LineEnd:         4,
		Message:         "possible None dereference",
		RuleID:          "bugs.none-deref",
		RuleDescription: "Dereference of a value that may be None",
		Level:           "high",
		SourceStage:     "bugs",
		Confidence:      0.8,
		Suggestion:      "Check for None first.",
	}
	require.NoError(t, b.AddReviewFinding(f))

	run := b.Report().Runs[0]
	require.Len(t, run.Results, 1)
	res := run.Results[0]
	assert.Equal(t, "error", res.Level)
	assert.Equal(t, review.FindingID(f), res.PartialFingerprints[FingerprintKey])
	assert.Equal(t, "bugs", res.Properties["sourceStage"])
	assert.Equal(t, 0.8, res.Properties["confidence"])
	assert.Equal(t, "Check for None first.", res.Properties["suggestion"])
	assert.Empty(t, res.Fixes, "a suggestion without replacement text is not a SARIF fix")
	assert.Equal(t, "Dereference of a value that may be None", run.Tool.Driver.Rules[0].ShortDescription.Text)
}

func TestBuilder_AddReviewFindingReplacementFix(t *testing.T) {
	b := newTestBuilder(t, "")
	require.NoError(t, b.AddFinding(FindingInput{FilePath: "other.py", Message: "m", RuleID: "R", LineStart: 1}))
	f := review.Finding{
		FilePath: "a.py", LineStart: 2, LineEnd: 3, Message: "use a context manager", RuleID: "R2",
		Suggestion: "Apply the autofix.",
		Extensions: map[string]any{review.ExtReplacement: "with open(p) as f:", review.ExtTool: "sast.semgrep"},
	}
	require.NoError(t, b.AddReviewFinding(f))

	res := b.Report().Runs[0].Results[1]
	require.Len(t, res.Fixes, 1)
	fx := res.Fixes[0]
	assert.Equal(t, "Apply the autofix.", fx.Description.Text)
	require.Len(t, fx.ArtifactChanges, 1)
	change := fx.ArtifactChanges[0]
	assert.Equal(t, "a.py", change.ArtifactLocation.URI)
	require.NotNil(t, change.ArtifactLocation.Index)
	assert.Equal(t, 1, *change.ArtifactLocation.Index, "fix is patched with the result's artifact index")
	require.Len(t, change.Replacements, 1)
	assert.Equal(t, 2, change.Replacements[0].DeletedRegion.StartLine)
	assert.Equal(t, 3, change.Replacements[0].DeletedRegion.EndLine)
	assert.Equal(t, "with open(p) as f:", change.Replacements[0].InsertedContent.Text)
	assert.Equal(t, "sast.semgrep", res.Properties[review.ExtTool])
	assert.NotContains(t, res.Properties, review.ExtReplacement)
}

func TestBuilder_AddReviewFindingInvalid(t *testing.T) {
	b := newTestBuilder(t, "")
	err := b.AddReviewFinding(review.Finding{FilePath: "a.py", LineStart: 1, RuleID: "R", SourceStage: "bugs"})
	var mf *review.MalformedFindingError
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, "message", mf.Field)
	assert.Equal(t, "bugs", mf.Stage)
	assert.Equal(t, 0, b.ResultCount())
}

func TestBuilder_TwoStagesSameLine(t *testing.T) {
	b := newTestBuilder(t, "")
	require.NoError(t, b.AddReviewFinding(review.Finding{FilePath: "a.py", LineStart: 1, Message: "style", RuleID: "STYLE1", SourceStage: "style"}))
	require.NoError(t, b.AddReviewFinding(review.Finding{FilePath: "a.py", LineStart: 1, Message: "bug", RuleID: "BUG1", SourceStage: "bugs"}))

	run := b.Report().Runs[0]
	assert.Len(t, run.Artifacts, 1)
	assert.Len(t, run.Results, 2)
	assert.Len(t, run.Tool.Driver.Rules, 2)
}

func TestBuilder_InvocationFailure(t *testing.T) {
	calls := 0
	b, err := NewBuilder(Options{
		ToolName: "gauntlet",
		Clock: func() time.Time {
			calls++
			return fixedTime.Add(time.Duration(calls) * time.Second)
		},
	})
	require.NoError(t, err)

	b.AddNotification("", "stage bugs: boom")
	b.SetInvocationStatus(false, "One or more errors occurred during analysis.")
	log := b.Report()

	inv := log.Runs[0].Invocations[0]
	assert.False(t, inv.ExecutionSuccessful)
	assert.Equal(t, "2026-03-01T12:00:01Z", inv.StartTimeUTC)
	assert.Equal(t, "2026-03-01T12:00:02Z", inv.EndTimeUTC)
	assert.False(t, log.Successful())

	notes := log.Notifications()
	require.Len(t, notes, 2)
	assert.Equal(t, "error", notes[0].Level)
	assert.Equal(t, "stage bugs: boom", notes[0].Message.Text)
	assert.Equal(t, "One or more errors occurred during analysis.", notes[1].Message.Text)

	// Report does not move an end time that was already set.
	assert.Equal(t, "2026-03-01T12:00:02Z", b.Report().Runs[0].Invocations[0].EndTimeUTC)
}

func TestBuilder_Deterministic(t *testing.T) {
	build := func() []byte {
		b := newTestBuilder(t, "/ws")
		for _, f := range []FindingInput{
			{FilePath: "b.go", Message: "m1", RuleID: "Z", LineStart: 3},
			{FilePath: "a.go", Message: "m2", RuleID: "A", LineStart: 1, Fingerprints: map[string]string{"k": "v"}},
			{FilePath: "b.go", Message: "m3", RuleID: "A", LineStart: 9},
		} {
			require.NoError(t, b.AddFinding(f))
		}
		b.SetInvocationStatus(true, "")
		data, err := b.Report().Marshal()
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, string(build()), string(build()))
}

func TestMinimal(t *testing.T) {
	log := Minimal("", "1.0", []string{"report: boom"}, fixedTime)
	assert.Equal(t, "unknown", log.Runs[0].Tool.Driver.Name)
	assert.False(t, log.Successful())
	assert.Empty(t, log.Results())
	require.Len(t, log.Notifications(), 1)

	data, err := log.Marshal()
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Version, parsed.Version)
}

func TestDefaultRuleName(t *testing.T) {
	assert.Equal(t, "No Bare Except", defaultRuleName("no_bare_except"))
	assert.Equal(t, "Python.Lang.Eval", defaultRuleName("python.lang.eval"))
	assert.Equal(t, "E0602", defaultRuleName("E0602"))
}

func TestLogAccessorsNil(t *testing.T) {
	var l *Log
	assert.Nil(t, l.Run())
	assert.Nil(t, l.Results())
	assert.False(t, l.Successful())
	assert.Nil(t, l.Notifications())
}

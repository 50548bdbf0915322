package sarif

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/dshills/gauntlet/internal/review"
)

// ErrNoToolName is returned by NewBuilder when the driver name is empty.
var ErrNoToolName = errors.New("sarif: tool name is required")

// FingerprintKey is the partialFingerprints entry written for every result.
const FingerprintKey = "gauntletFindingId/v1"

// Options configures a Builder.
type Options struct {
	ToolName       string
	ToolVersion    string
	InformationURI string
	Organization   string
	// WorkspaceRoot makes absolute finding paths relative and tags artifacts
	// with uriBaseId SRCROOT. Empty disables both.
	WorkspaceRoot string
	Clock         func() time.Time
	Logger        *zap.Logger
}

// RuleMeta is optional metadata registered the first time a rule id is seen.
type RuleMeta struct {
	Name             string
	ShortDescription string
	FullDescription  string
	HelpURI          string
}

// FixReplacement replaces lines of the finding's artifact with Text.
type FixReplacement struct {
	StartLine   int
	EndLine     int
	StartColumn int
	EndColumn   int
	Text        string
}

// FixInput is a suggested remediation. Without replacements the description
// is kept in the result's "suggestion" property.
type FixInput struct {
	Description  string
	Replacements []FixReplacement
}

// FindingInput is everything AddFinding needs to record one result.
type FindingInput struct {
	FilePath     string
	Message      string
	RuleID       string
	Level        string
	LineStart    int
	LineEnd      int
	ColumnStart  int
	ColumnEnd    int
	Snippet      string
	Rule         *RuleMeta
	Fixes        []FixInput
	Fingerprints map[string]string
	Properties   map[string]any
}

// Builder accumulates findings into a single-run SARIF log. One Builder is
// used per pipeline run; it is not safe for concurrent use.
type Builder struct {
	root      string
	clock     func() time.Time
	logger    *zap.Logger
	log       *Log
	artifacts map[string]int
	rules     map[string]bool
	ended     bool
}

// NewBuilder creates a Builder. The only failure is an empty tool name.
func NewBuilder(opts Options) (*Builder, error) {
	if strings.TrimSpace(opts.ToolName) == "" {
		return nil, ErrNoToolName
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var root string
	if opts.WorkspaceRoot != "" {
		abs, err := filepath.Abs(opts.WorkspaceRoot)
		if err != nil {
			logger.Warn("cannot resolve workspace root; paths left as given", zap.String("root", opts.WorkspaceRoot), zap.Error(err))
		} else {
			root = abs
		}
	}

	run := Run{
		Tool: Tool{Driver: Driver{
			Name:           opts.ToolName,
			Version:        opts.ToolVersion,
			InformationURI: opts.InformationURI,
			Organization:   opts.Organization,
			Rules:          []Rule{},
		}},
		Artifacts: []Artifact{},
		Results:   []Result{},
		Invocations: []Invocation{{
			StartTimeUTC:        formatTime(clock()),
			ExecutionSuccessful: true,
		}},
	}
	if root != "" {
		run.OriginalURIBaseIDs = map[string]ArtifactLocation{
			SourceRootID: {URI: fileURI(root, true)},
		}
	}

	return &Builder{
		root:      root,
		clock:     clock,
		logger:    logger,
		log:       &Log{Schema: SchemaURI, Version: Version, Runs: []Run{run}},
		artifacts: make(map[string]int),
		rules:     make(map[string]bool),
	}, nil
}

func (b *Builder) run() *Run {
	return &b.log.Runs[0]
}

// AddFinding records one result, registering its artifact and rule on
// first sight.
func (b *Builder) AddFinding(in FindingInput) error {
	switch {
	case strings.TrimSpace(in.FilePath) == "":
		return &review.MalformedFindingError{Field: "filePath", Reason: "is required"}
	case strings.TrimSpace(in.RuleID) == "":
		return &review.MalformedFindingError{Field: "ruleId", Reason: "is required"}
	case strings.TrimSpace(in.Message) == "":
		return &review.MalformedFindingError{Field: "message", Reason: "is required"}
	case in.LineStart < 1:
		return &review.MalformedFindingError{Field: "lineStart", Reason: fmt.Sprintf("must be >= 1 (got %d)", in.LineStart)}
	}

	level := string(review.MapLevel(in.Level))
	b.addRule(in.RuleID, in.Rule, level)
	idx, loc := b.addArtifact(in.FilePath)

	region := Region{StartLine: in.LineStart}
	if in.LineEnd >= in.LineStart {
		region.EndLine = in.LineEnd
	}
	if in.ColumnStart > 0 {
		region.StartColumn = in.ColumnStart
	}
	if in.ColumnEnd > 0 {
		region.EndColumn = in.ColumnEnd
	}
	if in.Snippet != "" {
		region.Snippet = &ArtifactContent{Text: in.Snippet}
	}

	res := Result{
		RuleID:  in.RuleID,
		Level:   level,
		Message: Message{Text: in.Message},
		Locations: []Location{{PhysicalLocation: PhysicalLocation{
			ArtifactLocation: withIndex(loc, idx),
			Region:           region,
		}}},
	}
	if len(in.Fingerprints) > 0 {
		res.PartialFingerprints = make(map[string]string, len(in.Fingerprints))
		for k, v := range in.Fingerprints {
			res.PartialFingerprints[k] = v
		}
	}
	props := make(map[string]any, len(in.Properties))
	for k, v := range in.Properties {
		props[k] = v
	}
	for _, fx := range in.Fixes {
		if len(fx.Replacements) == 0 {
			// A fix needs at least one artifact change; keep the text as a property.
			if fx.Description != "" {
				props["suggestion"] = fx.Description
			}
			continue
		}
		res.Fixes = append(res.Fixes, b.fix(fx, loc, idx))
	}
	if len(props) > 0 {
		res.Properties = props
	}

	run := b.run()
	run.Results = append(run.Results, res)
	b.logger.Debug("added result",
		zap.String("rule", in.RuleID),
		zap.String("uri", loc.URI),
		zap.Int("line", in.LineStart))
	return nil
}

// AddReviewFinding validates f and records it. Invalid findings are not
// recorded and the returned error is a *review.MalformedFindingError.
func (b *Builder) AddReviewFinding(f review.Finding) error {
	if err := review.Validate(f); err != nil {
		return err
	}

	in := FindingInput{
		FilePath:    f.FilePath,
		Message:     f.Message,
		RuleID:      f.RuleID,
		Level:       f.Level,
		LineStart:   f.LineStart,
		LineEnd:     f.LineEnd,
		ColumnStart: f.ColumnStart,
		ColumnEnd:   f.ColumnEnd,
		Snippet:     f.Snippet,
		Fingerprints: map[string]string{
			FingerprintKey: review.FindingID(f),
		},
	}
	for k, v := range f.Fingerprints {
		in.Fingerprints[k] = v
	}
	if f.RuleName != "" || f.RuleDescription != "" || f.HelpURI != "" {
		in.Rule = &RuleMeta{
			Name:             f.RuleName,
			ShortDescription: f.RuleDescription,
			FullDescription:  f.RuleDescription,
			HelpURI:          f.HelpURI,
		}
	}

	props := map[string]any{}
	if f.SourceStage != "" {
		props["sourceStage"] = f.SourceStage
	}
	if f.Confidence > 0 {
		props["confidence"] = f.Confidence
	}
	replacement, _ := f.Extensions[review.ExtReplacement].(string)
	for k, v := range f.Extensions {
		if k == review.ExtReplacement {
			continue
		}
		props[k] = v
	}
	if len(props) > 0 {
		in.Properties = props
	}

	if f.Suggestion != "" || replacement != "" {
		fx := FixInput{Description: f.Suggestion}
		if replacement != "" {
			end := f.LineEnd
			if end < f.LineStart {
				end = f.LineStart
			}
			fx.Replacements = []FixReplacement{{StartLine: f.LineStart, EndLine: end, Text: replacement}}
		}
		in.Fixes = []FixInput{fx}
	}
	return b.AddFinding(in)
}

// SetInvocationStatus records the end time and the success flag. An
// unsuccessful status with a message adds an error notification.
func (b *Builder) SetInvocationStatus(successful bool, message string) {
	inv := &b.run().Invocations[0]
	inv.ExecutionSuccessful = successful
	inv.EndTimeUTC = formatTime(b.clock())
	b.ended = true
	if !successful && message != "" {
		b.AddNotification("error", message)
	}
}

// AddNotification appends a tool execution notification.
func (b *Builder) AddNotification(level, message string) {
	if level == "" {
		level = "error"
	}
	inv := &b.run().Invocations[0]
	inv.ToolExecutionNotifications = append(inv.ToolExecutionNotifications, Notification{
		Level:   level,
		Message: Message{Text: message},
	})
}

// ResultCount returns the number of results recorded so far.
func (b *Builder) ResultCount() int {
	return len(b.run().Results)
}

// Report finalizes the end time if it was never set and returns the log.
func (b *Builder) Report() *Log {
	if !b.ended {
		b.run().Invocations[0].EndTimeUTC = formatTime(b.clock())
		b.ended = true
	}
	b.logger.Debug("SARIF report finalized", zap.Int("results", b.ResultCount()))
	return b.log
}

func (b *Builder) addRule(id string, meta *RuleMeta, level string) {
	if b.rules[id] {
		return
	}
	r := Rule{
		ID:                   id,
		Name:                 defaultRuleName(id),
		ShortDescription:     Message{Text: fmt.Sprintf("Finding reported by rule '%s'.", id)},
		DefaultConfiguration: DefaultConfiguration{Level: level},
	}
	if meta != nil {
		if meta.Name != "" {
			r.Name = meta.Name
		}
		if meta.ShortDescription != "" {
			r.ShortDescription = Message{Text: meta.ShortDescription}
		}
		if meta.FullDescription != "" {
			r.FullDescription = &Message{Text: meta.FullDescription}
		}
		r.HelpURI = meta.HelpURI
	}
	run := b.run()
	run.Tool.Driver.Rules = append(run.Tool.Driver.Rules, r)
	b.rules[id] = true
}

func (b *Builder) addArtifact(p string) (int, ArtifactLocation) {
	loc := b.location(p)
	if idx, ok := b.artifacts[loc.URI]; ok {
		return idx, loc
	}
	run := b.run()
	run.Artifacts = append(run.Artifacts, Artifact{Location: loc})
	idx := len(run.Artifacts) - 1
	b.artifacts[loc.URI] = idx
	return idx, loc
}

// location normalizes a finding path into an artifact location.
func (b *Builder) location(p string) ArtifactLocation {
	p = strings.TrimSpace(p)
	native := filepath.FromSlash(p)
	if filepath.IsAbs(native) {
		if b.root != "" {
			if rel, ok := within(b.root, native); ok {
				return ArtifactLocation{URI: cleanURI(rel), URIBaseID: SourceRootID}
			}
			b.logger.Warn("absolute path outside workspace root", zap.String("path", p), zap.String("root", b.root))
		}
		return ArtifactLocation{URI: fileURI(native, false)}
	}
	loc := ArtifactLocation{URI: cleanURI(p)}
	if b.root != "" {
		loc.URIBaseID = SourceRootID
	}
	return loc
}

// fix builds a SARIF fix whose artifact change points at the result's artifact.
func (b *Builder) fix(in FixInput, loc ArtifactLocation, idx int) Fix {
	var fx Fix
	if in.Description != "" {
		fx.Description = &Message{Text: in.Description}
	}
	change := ArtifactChange{ArtifactLocation: withIndex(loc, idx)}
	for _, r := range in.Replacements {
		rep := Replacement{DeletedRegion: Region{
			StartLine:   r.StartLine,
			EndLine:     r.EndLine,
			StartColumn: r.StartColumn,
			EndColumn:   r.EndColumn,
		}}
		if r.Text != "" {
			rep.InsertedContent = &ArtifactContent{Text: r.Text}
		}
		change.Replacements = append(change.Replacements, rep)
	}
	fx.ArtifactChanges = []ArtifactChange{change}
	return fx
}

func withIndex(loc ArtifactLocation, idx int) ArtifactLocation {
	i := idx
	loc.Index = &i
	return loc
}

func within(root, p string) (string, bool) {
	rel, err := filepath.Rel(root, filepath.Clean(p))
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// cleanURI converts a relative path to a forward-slash URI reference
// without "./" segments.
func cleanURI(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	c := path.Clean(p)
	if c == "." {
		return p
	}
	return c
}

func fileURI(p string, dir bool) string {
	s := filepath.ToSlash(p)
	if !strings.HasPrefix(s, "/") {
		// Windows drive paths.
		s = "/" + s
	}
	if dir && !strings.HasSuffix(s, "/") {
		s += "/"
	}
	u := url.URL{Scheme: "file", Path: s}
	return u.String()
}

// defaultRuleName turns "no_bare_except" into "No Bare Except".
func defaultRuleName(id string) string {
	s := strings.ReplaceAll(id, "_", " ")
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

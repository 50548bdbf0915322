package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/dshills/gauntlet/internal/config"
	"github.com/dshills/gauntlet/internal/review"
	"github.com/dshills/gauntlet/internal/sarif"
)

// ErrMissingDependency is returned by a stage that cannot run because a
// required collaborator (model, tool, credential) is not configured.
var ErrMissingDependency = errors.New("missing stage dependency")

// Stage is one unit of analysis in the graph.
type Stage interface {
	Name() string
	Run(ctx context.Context, rc RunContext) (Outcome, error)
}

// Prior is the accumulated output of the stages that ran before this one.
type Prior struct {
	ToolResults ToolResults
	Findings    []review.Finding
	Errors      []string
	Visited     []string
}

// RunContext is the read-only view a stage receives. Files and Prior are
// copies; mutating them has no effect on the pipeline state.
type RunContext struct {
	Files  []review.ChangedFile
	Prior  Prior
	Config *config.Config
	Logger *zap.Logger
	RunID  string
}

// Outcome is a stage's partial update. Zero fields leave the state alone.
type Outcome struct {
	// Files replaces the file list. Only the entry stage may change paths.
	Files       []review.ChangedFile
	ToolResults ToolResults
	Findings    []review.Finding
	// Replace overwrites the findings list instead of extending it. It is
	// honored only for stages added with Consolidation.
	Replace bool
	Errors  []string
	Report  *sarif.Log
}

// StageFunc adapts a function into a Stage.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, rc RunContext) (Outcome, error)
}

// Name returns the stage name.
func (s StageFunc) Name() string { return s.StageName }

// Run calls Fn.
func (s StageFunc) Run(ctx context.Context, rc RunContext) (Outcome, error) {
	return s.Fn(ctx, rc)
}

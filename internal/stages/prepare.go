package stages

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/gauntlet/internal/pipeline"
	"github.com/dshills/gauntlet/internal/review"
)

// Stage names used by the default graph.
const (
	PrepareName     = "prepare"
	ToolsName       = "tools"
	ConsolidateName = "consolidate"
	ReportName      = "report"
)

// Route keys returned by NoFiles.
const (
	RouteFiles = "files"
	RouteEmpty = "empty"
)

// Prepare is the entry stage. It normalizes paths and infers each file's
// language once; later stages see the file list as read-only.
type Prepare struct{}

// Name returns "prepare".
func (Prepare) Name() string { return PrepareName }

// Run fills in Language and cleans paths. An empty path stays empty.
func (Prepare) Run(_ context.Context, rc pipeline.RunContext) (pipeline.Outcome, error) {
	files := rc.Files
	for i := range files {
		f := &files[i]
		if f.Path != "" {
			f.Path = strings.TrimPrefix(filepath.ToSlash(filepath.Clean(f.Path)), "./")
		}
		if f.Language == "" {
			f.Language = review.GuessLanguage(f.Path)
		}
	}
	rc.Logger.Debug("prepared files",
		zap.Int("files", len(files)),
		zap.Strings("languages", review.Languages(files)),
	)
	return pipeline.Outcome{Files: files}, nil
}

// NoFiles routes to RouteEmpty when there is nothing to analyze.
func NoFiles(s pipeline.State) (string, error) {
	if len(s.Files) == 0 {
		return RouteEmpty, nil
	}
	return RouteFiles, nil
}

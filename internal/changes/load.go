package changes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/gauntlet/internal/logging"
	"github.com/dshills/gauntlet/internal/review"
)

// DefaultMaxFileBytes skips files larger than 1 MiB.
const DefaultMaxFileBytes = 1 << 20

// Loader reads changed files relative to Root.
type Loader struct {
	Root         string
	Include      []string
	Exclude      []string
	MaxFileBytes int
	Logger       *zap.Logger
}

// FromPaths loads the named files. Directories are walked.
func (l Loader) FromPaths(paths []string) ([]review.ChangedFile, error) {
	var rels []string
	for _, p := range paths {
		abs := l.abs(p)
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		if !info.IsDir() {
			rels = append(rels, l.rel(abs))
			continue
		}
		err = filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != abs && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			rels = append(rels, l.rel(path))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", p, err)
		}
	}
	return l.load(dedupe(rels), nil)
}

// FromDiff loads every file the diff adds or modifies, with its hunks.
// Deleted and binary files are skipped.
func (l Loader) FromDiff(text string) ([]review.ChangedFile, error) {
	fds, err := ParseDiff(text)
	if err != nil {
		return nil, err
	}
	log := logging.OrNop(l.Logger)
	hunks := make(map[string][]string, len(fds))
	var rels []string
	for _, fd := range fds {
		switch {
		case fd.Path == "":
			continue
		case fd.Deleted:
			log.Debug("skipping deleted file", zap.String("file", fd.Path))
			continue
		case fd.Binary:
			log.Debug("skipping binary file", zap.String("file", fd.Path))
			continue
		}
		if _, seen := hunks[fd.Path]; !seen {
			rels = append(rels, fd.Path)
		}
		hunks[fd.Path] = append(hunks[fd.Path], fd.Hunks...)
	}
	return l.load(rels, hunks)
}

// FromReader reads a unified diff from r.
func (l Loader) FromReader(r io.Reader) ([]review.ChangedFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading diff: %w", err)
	}
	return l.FromDiff(string(data))
}

// FromGit asks git for the diff described by src.
func (l Loader) FromGit(ctx context.Context, src GitSource) ([]review.ChangedFile, error) {
	text, err := Git{Dir: l.Root}.Diff(ctx, src)
	if err != nil {
		return nil, err
	}
	return l.FromDiff(text)
}

// load reads rels in order, applying filters. Files that vanished since
// the diff was taken are skipped.
func (l Loader) load(rels []string, hunks map[string][]string) ([]review.ChangedFile, error) {
	log := logging.OrNop(l.Logger)
	limit := l.MaxFileBytes
	if limit == 0 {
		limit = DefaultMaxFileBytes
	}
	files := make([]review.ChangedFile, 0, len(rels))
	for _, rel := range rels {
		if len(l.Include) > 0 && !MatchesAny(rel, l.Include) {
			continue
		}
		if MatchesAny(rel, l.Exclude) {
			continue
		}
		data, err := os.ReadFile(l.abs(rel))
		if os.IsNotExist(err) {
			log.Warn("changed file not found; skipped", zap.String("file", rel))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", rel, err)
		}
		if limit > 0 && len(data) > limit {
			log.Warn("changed file too large; skipped", zap.String("file", rel), zap.Int("bytes", len(data)))
			continue
		}
		if isBinary(data) {
			log.Debug("skipping binary file", zap.String("file", rel))
			continue
		}
		files = append(files, review.ChangedFile{
			Path:      rel,
			Content:   string(data),
			Language:  review.GuessLanguage(rel),
			DiffHunks: hunks[rel],
		})
	}
	return files, nil
}

func (l Loader) abs(p string) string {
	if filepath.IsAbs(p) || l.Root == "" {
		return p
	}
	return filepath.Join(l.Root, p)
}

func (l Loader) rel(abs string) string {
	root := l.Root
	if root == "" {
		root = "."
	}
	if r, err := filepath.Rel(root, abs); err == nil && !strings.HasPrefix(r, "..") {
		return filepath.ToSlash(r)
	}
	return filepath.ToSlash(abs)
}

// isBinary treats a NUL byte in the first 8 KiB as binary content.
func isBinary(data []byte) bool {
	if len(data) > 8192 {
		data = data[:8192]
	}
	return bytes.IndexByte(data, 0) >= 0
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// MatchesAny reports whether path matches any glob. A leading "**/" also
// matches the pattern against the base name, and a trailing "/**" matches
// everything below a directory.
func MatchesAny(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, err := filepath.Match(pattern, path); err == nil && matched {
			return true
		}
		if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
			if path == dir || strings.HasPrefix(path, dir+"/") {
				return true
			}
		}
		if clean, ok := strings.CutPrefix(pattern, "**/"); ok {
			if matched, err := filepath.Match(clean, filepath.Base(path)); err == nil && matched {
				return true
			}
			if matched, err := filepath.Match(clean, path); err == nil && matched {
				return true
			}
		}
	}
	return false
}

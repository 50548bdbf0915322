package changes

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

const devNull = "/dev/null"

// FileDiff is one file's side of a unified diff.
type FileDiff struct {
	Path    string
	Deleted bool
	Binary  bool
	Hunks   []string
}

// ParseDiff splits a unified diff into per-file hunks. Paths have the
// a/ and b/ prefixes removed.
func ParseDiff(text string) ([]FileDiff, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	fds, err := diff.NewMultiFileDiffReader(strings.NewReader(text)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}
	out := make([]FileDiff, 0, len(fds))
	for _, fd := range fds {
		f := FileDiff{Path: stripPrefix(fd.NewName)}
		if fd.NewName == devNull {
			f.Path = stripPrefix(fd.OrigName)
			f.Deleted = true
		}
		if f.Path == "" {
			f.Path = pathFromExtended(fd.Extended)
		}
		for _, ext := range fd.Extended {
			if strings.HasPrefix(ext, "Binary files ") || strings.HasPrefix(ext, "GIT binary patch") {
				f.Binary = true
			}
		}
		for _, h := range fd.Hunks {
			f.Hunks = append(f.Hunks, formatHunk(h))
		}
		out = append(out, f)
	}
	return out, nil
}

func formatHunk(h *diff.Hunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@", h.OrigStartLine, h.OrigLines, h.NewStartLine, h.NewLines)
	if h.Section != "" {
		b.WriteString(" " + h.Section)
	}
	b.WriteByte('\n')
	b.Write(h.Body)
	return b.String()
}

func stripPrefix(name string) string {
	if name == devNull {
		return ""
	}
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}

// pathFromExtended recovers the path of a diff without ---/+++ lines
// (binary files, pure mode changes) from its "diff --git" header.
func pathFromExtended(ext []string) string {
	for _, line := range ext {
		if !strings.HasPrefix(line, "diff --git ") {
			continue
		}
		if i := strings.LastIndex(line, " b/"); i >= 0 {
			return line[i+3:]
		}
	}
	return ""
}

package pipeline

import (
	"sort"

	"github.com/dshills/gauntlet/internal/review"
	"github.com/dshills/gauntlet/internal/sarif"
)

// ToolResults holds raw tool findings indexed by tool category then key.
type ToolResults map[string]map[string][]review.Finding

// Add appends findings under category/key.
func (tr ToolResults) Add(category, key string, findings ...review.Finding) {
	byKey, ok := tr[category]
	if !ok {
		byKey = make(map[string][]review.Finding)
		tr[category] = byKey
	}
	byKey[key] = append(byKey[key], findings...)
}

// Count returns the total number of findings across all tools.
func (tr ToolResults) Count() int {
	n := 0
	for _, byKey := range tr {
		for _, fs := range byKey {
			n += len(fs)
		}
	}
	return n
}

// All flattens the results in category then key order.
func (tr ToolResults) All() []review.Finding {
	cats := make([]string, 0, len(tr))
	for c := range tr {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	var out []review.Finding
	for _, c := range cats {
		keys := make([]string, 0, len(tr[c]))
		for k := range tr[c] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, tr[c][k]...)
		}
	}
	return out
}

// Clone returns a copy that shares no maps or slices with tr.
func (tr ToolResults) Clone() ToolResults {
	if tr == nil {
		return ToolResults{}
	}
	out := make(ToolResults, len(tr))
	for c, byKey := range tr {
		m := make(map[string][]review.Finding, len(byKey))
		for k, fs := range byKey {
			m[k] = cloneFindings(fs)
		}
		out[c] = m
	}
	return out
}

// merge extends tr with other.
func (tr ToolResults) merge(other ToolResults) {
	for c, byKey := range other {
		for k, fs := range byKey {
			tr.Add(c, k, fs...)
		}
	}
}

// State is the record threaded through a pipeline run. Only the
// orchestrator mutates it; stages receive copies.
type State struct {
	Files       []review.ChangedFile
	ToolResults ToolResults
	Findings    []review.Finding
	Errors      []string
	Report      *sarif.Log
	// Visited lists the stages that ran, in order.
	Visited []string
	// Skipped lists stages whose guard evaluated to false.
	Skipped []string
}

// NewState returns an initial state for files.
func NewState(files []review.ChangedFile) State {
	return State{Files: cloneFiles(files), ToolResults: ToolResults{}}
}

// Successful reports whether the run recorded no errors.
func (s State) Successful() bool {
	return len(s.Errors) == 0
}

func cloneFiles(files []review.ChangedFile) []review.ChangedFile {
	if files == nil {
		return nil
	}
	out := make([]review.ChangedFile, len(files))
	for i, f := range files {
		out[i] = f
		if f.DiffHunks != nil {
			out[i].DiffHunks = append([]string(nil), f.DiffHunks...)
		}
	}
	return out
}

func cloneFindings(fs []review.Finding) []review.Finding {
	if fs == nil {
		return nil
	}
	out := make([]review.Finding, len(fs))
	for i, f := range fs {
		out[i] = f
		if f.Fingerprints != nil {
			out[i].Fingerprints = make(map[string]string, len(f.Fingerprints))
			for k, v := range f.Fingerprints {
				out[i].Fingerprints[k] = v
			}
		}
		if f.Extensions != nil {
			out[i].Extensions = make(map[string]any, len(f.Extensions))
			for k, v := range f.Extensions {
				out[i].Extensions[k] = v
			}
		}
	}
	return out
}

// sameFiles reports whether b has the same length and paths as a.
func sameFiles(a, b []review.ChangedFile) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Path != b[i].Path {
			return false
		}
	}
	return true
}

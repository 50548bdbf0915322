package redact

import (
	"path"
	"regexp"
	"strings"

	"github.com/dshills/gauntlet/internal/config"
	"github.com/dshills/gauntlet/internal/review"
)

// Placeholder replaces every detected secret.
const Placeholder = "[REDACTED]"

// WithheldContent replaces files matched by a path pattern.
const WithheldContent = Placeholder + " (file content withheld by path policy)\n"

type pattern struct {
	name string
	re   *regexp.Regexp
}

var defaultPatterns = []pattern{
	{"api-key-assignment", regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?secret)\s*[:=]\s*["']?[A-Za-z0-9/+=_-]{20,}["']?`)},
	{"aws-access-key-id", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"aws-secret-access-key", regexp.MustCompile(`(?i)aws[_-]?secret[_-]?access[_-]?key\s*[:=]\s*["']?[A-Za-z0-9/+=]{40}["']?`)},
	{"quoted-secret-assignment", regexp.MustCompile(`(?i)(secret|token|password|passwd|credential)\s*[:=]\s*["'][^"'\n]{8,}["']`)},
	{"bearer-token", regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9._-]{20,}`)},
	{"jwt", regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`)},
	{"private-key-header", regexp.MustCompile(`-----BEGIN[ A-Z]*PRIVATE KEY-----`)},
	{"github-token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}`)},
	{"slack-token", regexp.MustCompile(`xox[bporas]-[A-Za-z0-9-]{10,}`)},
	{"anthropic-key", regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`)},
	{"openai-key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{"connection-string", regexp.MustCompile(`(?i)\b(postgres(ql)?|mysql|mongodb(\+srv)?|redis|amqp)://[^\s:/@]+:[^\s@]+@`)},
	{"hex-secret-assignment", regexp.MustCompile(`(?i)(key|secret|token)\s*[:=]\s*["']?[0-9a-f]{32,}["']?`)},
}

// Redactor applies secret patterns and path policies.
type Redactor struct {
	patterns []pattern
	paths    []string
	secrets  bool
}

// New returns a Redactor for the privacy settings.
func New(p config.PrivacyConfig) *Redactor {
	return &Redactor{patterns: defaultPatterns, paths: p.RedactPaths, secrets: p.RedactSecrets}
}

// Result describes what File changed.
type Result struct {
	// Matches counts replacements per pattern name.
	Matches  map[string]int
	Withheld bool
}

// Total returns the number of replacements.
func (r Result) Total() int {
	n := 0
	for _, c := range r.Matches {
		n += c
	}
	return n
}

// Text replaces every secret in s.
func (r *Redactor) Text(s string) (string, Result) {
	res := Result{}
	if r == nil || !r.secrets {
		return s, res
	}
	for _, p := range r.patterns {
		n := 0
		s = p.re.ReplaceAllStringFunc(s, func(string) string {
			n++
			return Placeholder
		})
		if n > 0 {
			if res.Matches == nil {
				res.Matches = make(map[string]int)
			}
			res.Matches[p.name] += n
		}
	}
	return s, res
}

// File returns a copy of f that is safe to send off the machine.
func (r *Redactor) File(f review.ChangedFile) (review.ChangedFile, Result) {
	if r == nil {
		return f, Result{}
	}
	if r.Withholds(f.Path) {
		f.Content = WithheldContent
		f.DiffHunks = nil
		return f, Result{Withheld: true}
	}
	content, res := r.Text(f.Content)
	f.Content = content
	if len(f.DiffHunks) > 0 {
		hunks := make([]string, len(f.DiffHunks))
		for i, h := range f.DiffHunks {
			var hr Result
			hunks[i], hr = r.Text(h)
			for k, v := range hr.Matches {
				if res.Matches == nil {
					res.Matches = make(map[string]int)
				}
				res.Matches[k] += v
			}
		}
		f.DiffHunks = hunks
	}
	return f, res
}

// Withholds reports whether p matches one of the path patterns. A leading
// "**/" matches at any depth.
func (r *Redactor) Withholds(p string) bool {
	if r == nil {
		return false
	}
	p = strings.TrimPrefix(path.Clean(strings.ReplaceAll(p, "\\", "/")), "./")
	base := path.Base(p)
	for _, pat := range r.paths {
		if ok, err := path.Match(pat, p); err == nil && ok {
			return true
		}
		if rest, found := strings.CutPrefix(pat, "**/"); found {
			if ok, err := path.Match(rest, base); err == nil && ok {
				return true
			}
			if ok, err := path.Match(rest, p); err == nil && ok {
				return true
			}
		}
	}
	return false
}

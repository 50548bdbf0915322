package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Target types for a tool invocation.
const (
	TargetFile    = "file"
	TargetProject = "project"
)

// Output methods for a tool invocation.
const (
	OutputStdout = "stdout"
	OutputFile   = "file"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// OutputFilePlaceholder marks a command that writes its report to a file.
const OutputFilePlaceholder = "{output_file}"

// ShapeSpec declares how to unwrap a tool's JSON document into a list of items.
type ShapeSpec struct {
	Kind string `yaml:"kind,omitempty" validate:"omitempty,oneof=list object key"`
	Key  string `yaml:"key,omitempty" validate:"required_if=Kind key"`
}

// ToolSpec describes one external tool invocation.
//
// In YAML a tool is either a bare command template string or a mapping.
type ToolSpec struct {
	Category              string            `yaml:"-"`
	Key                   string            `yaml:"-"`
	Command               string            `yaml:"command" validate:"required"`
	Target                string            `yaml:"target,omitempty" validate:"omitempty,oneof=file project"`
	Output                string            `yaml:"output,omitempty" validate:"omitempty,oneof=stdout file"`
	Format                string            `yaml:"format,omitempty" validate:"omitempty,oneof=text json"`
	Parser                string            `yaml:"parser,omitempty" validate:"omitempty,oneof=semgrep pylint trivy generic none"`
	Shape                 ShapeSpec         `yaml:"shape,omitempty"`
	Fields                map[string]string `yaml:"fields,omitempty"`
	Languages             []string          `yaml:"languages,omitempty"`
	TimeoutSeconds        int               `yaml:"timeoutSeconds,omitempty" validate:"gte=0"`
	FindingsOnNonZeroExit *bool             `yaml:"findingsOnNonZeroExit,omitempty"`
	Vars                  map[string]string `yaml:"vars,omitempty"`

	// Timeout is the resolved wall-clock limit, filled in by Config.ToolSpec.
	Timeout time.Duration `yaml:"-"`
}

// UnmarshalYAML accepts either a scalar command template or a full mapping.
func (t *ToolSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		t.Command = value.Value
		return nil
	}
	type plain ToolSpec
	return value.Decode((*plain)(t))
}

// ID returns "category.key".
func (t ToolSpec) ID() string {
	return t.Category + "." + t.Key
}

// WritesOutputFile reports whether the command writes to {output_file}.
func (t ToolSpec) WritesOutputFile() bool {
	if t.Output != "" {
		return t.Output == OutputFile
	}
	return strings.Contains(t.Command, OutputFilePlaceholder)
}

// ExpectsJSON reports whether the tool output should be parsed as JSON.
func (t ToolSpec) ExpectsJSON() bool {
	return t.Format == FormatJSON
}

// AllowsNonZeroExit reports whether output on a nonzero exit is treated as findings.
func (t ToolSpec) AllowsNonZeroExit() bool {
	return t.FindingsOnNonZeroExit == nil || *t.FindingsOnNonZeroExit
}

// AppliesTo reports whether the tool should run for a file of the given
// language. An empty filter matches everything.
func (t ToolSpec) AppliesTo(language string) bool {
	if len(t.Languages) == 0 {
		return true
	}
	for _, l := range t.Languages {
		if strings.EqualFold(l, language) {
			return true
		}
	}
	return false
}

func (t ToolSpec) resolved(category, key string, defaultTimeout time.Duration) ToolSpec {
	out := t
	out.Category = category
	out.Key = key
	if out.Target == "" {
		out.Target = TargetFile
	}
	if out.Output == "" {
		if strings.Contains(out.Command, OutputFilePlaceholder) {
			out.Output = OutputFile
		} else {
			out.Output = OutputStdout
		}
	}
	if out.Format == "" {
		switch out.Parser {
		case "semgrep", "pylint", "trivy", "generic":
			out.Format = FormatJSON
		default:
			out.Format = FormatText
		}
	}
	if out.Parser == "" {
		out.Parser = "none"
	}
	out.Timeout = defaultTimeout
	if out.TimeoutSeconds > 0 {
		out.Timeout = time.Duration(out.TimeoutSeconds) * time.Second
	}
	return out
}

// ToolTable maps category -> key -> tool spec.
type ToolTable map[string]map[string]ToolSpec

// Lookup returns the raw spec for (category, key).
func (tt ToolTable) Lookup(category, key string) (ToolSpec, bool) {
	keys, ok := tt[category]
	if !ok {
		return ToolSpec{}, false
	}
	spec, ok := keys[key]
	return spec, ok
}

// Merge returns a new table with override entries layered on top of tt.
// Entries are replaced per (category, key); other keys in a category survive.
func (tt ToolTable) Merge(override ToolTable) ToolTable {
	out := make(ToolTable, len(tt)+len(override))
	for cat, keys := range tt {
		m := make(map[string]ToolSpec, len(keys))
		for k, v := range keys {
			m[k] = v
		}
		out[cat] = m
	}
	for cat, keys := range override {
		m, ok := out[cat]
		if !ok {
			m = make(map[string]ToolSpec, len(keys))
			out[cat] = m
		}
		for k, v := range keys {
			m[k] = v
		}
	}
	return out
}

// ToolRef identifies one configured tool.
type ToolRef struct {
	Category string
	Key      string
}

// String returns "category.key".
func (r ToolRef) String() string {
	return r.Category + "." + r.Key
}

// Refs returns every configured tool sorted by category then key.
func (tt ToolTable) Refs() []ToolRef {
	var refs []ToolRef
	for cat, keys := range tt {
		for k := range keys {
			refs = append(refs, ToolRef{Category: cat, Key: k})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Category != refs[j].Category {
			return refs[i].Category < refs[j].Category
		}
		return refs[i].Key < refs[j].Key
	})
	return refs
}

// ParseToolRef parses "category.key".
func ParseToolRef(s string) (ToolRef, error) {
	cat, key, ok := strings.Cut(s, ".")
	if !ok || cat == "" || key == "" {
		return ToolRef{}, fmt.Errorf("invalid tool reference %q: want category.key", s)
	}
	return ToolRef{Category: cat, Key: key}, nil
}

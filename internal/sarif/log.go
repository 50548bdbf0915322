package sarif

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version and schema written into every log.
const (
	Version   = "2.1.0"
	SchemaURI = "https://json.schemastore.org/sarif-2.1.0.json"
)

// SourceRootID is the uriBaseId used for artifacts relative to the workspace root.
const SourceRootID = "SRCROOT"

const timeLayout = "2006-01-02T15:04:05Z"

// Log is a SARIF 2.1.0 document with a single run.
type Log struct {
	Schema  string `json:"$schema"`
	Version string `json:"version"`
	Runs    []Run  `json:"runs"`
}

// Run holds one tool invocation's results.
type Run struct {
	Tool               Tool                        `json:"tool"`
	OriginalURIBaseIDs map[string]ArtifactLocation `json:"originalUriBaseIds,omitempty"`
	Artifacts          []Artifact                  `json:"artifacts"`
	Results            []Result                    `json:"results"`
	Invocations        []Invocation                `json:"invocations"`
}

// Tool wraps the driver component.
type Tool struct {
	Driver Driver `json:"driver"`
}

// Driver describes the analysis tool.
type Driver struct {
	Name           string `json:"name"`
	Version        string `json:"version,omitempty"`
	InformationURI string `json:"informationUri,omitempty"`
	Organization   string `json:"organization,omitempty"`
	Rules          []Rule `json:"rules"`
}

// Rule is a reportingDescriptor for one rule id.
type Rule struct {
	ID                   string               `json:"id"`
	Name                 string               `json:"name,omitempty"`
	ShortDescription     Message              `json:"shortDescription"`
	FullDescription      *Message             `json:"fullDescription,omitempty"`
	HelpURI              string               `json:"helpUri,omitempty"`
	DefaultConfiguration DefaultConfiguration `json:"defaultConfiguration"`
}

// DefaultConfiguration carries a rule's default level.
type DefaultConfiguration struct {
	Level string `json:"level"`
}

// Message is a SARIF message object.
type Message struct {
	Text string `json:"text"`
}

// Artifact is one file referenced by results.
type Artifact struct {
	Location ArtifactLocation `json:"location"`
}

// ArtifactLocation points at a file, optionally relative to a uriBaseId.
type ArtifactLocation struct {
	URI       string `json:"uri"`
	URIBaseID string `json:"uriBaseId,omitempty"`
	Index     *int   `json:"index,omitempty"`
}

// Result is one finding.
type Result struct {
	RuleID              string            `json:"ruleId"`
	Level               string            `json:"level"`
	Message             Message           `json:"message"`
	Locations           []Location        `json:"locations"`
	Fixes               []Fix             `json:"fixes,omitempty"`
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
	Properties          map[string]any    `json:"properties,omitempty"`
}

// Location wraps a physical location.
type Location struct {
	PhysicalLocation PhysicalLocation `json:"physicalLocation"`
}

// PhysicalLocation is an artifact plus a region inside it.
type PhysicalLocation struct {
	ArtifactLocation ArtifactLocation `json:"artifactLocation"`
	Region           Region           `json:"region"`
}

// Region is a line/column span.
type Region struct {
	StartLine   int              `json:"startLine"`
	EndLine     int              `json:"endLine,omitempty"`
	StartColumn int              `json:"startColumn,omitempty"`
	EndColumn   int              `json:"endColumn,omitempty"`
	Snippet     *ArtifactContent `json:"snippet,omitempty"`
}

// ArtifactContent holds literal text.
type ArtifactContent struct {
	Text string `json:"text"`
}

// Fix is a proposed change.
type Fix struct {
	Description     *Message         `json:"description,omitempty"`
	ArtifactChanges []ArtifactChange `json:"artifactChanges"`
}

// ArtifactChange lists replacements within one artifact.
type ArtifactChange struct {
	ArtifactLocation ArtifactLocation `json:"artifactLocation"`
	Replacements     []Replacement    `json:"replacements"`
}

// Replacement replaces a region with new content.
type Replacement struct {
	DeletedRegion   Region           `json:"deletedRegion"`
	InsertedContent *ArtifactContent `json:"insertedContent,omitempty"`
}

// Invocation records when the run happened and whether it succeeded.
type Invocation struct {
	StartTimeUTC               string         `json:"startTimeUtc"`
	EndTimeUTC                 string         `json:"endTimeUtc,omitempty"`
	ExecutionSuccessful        bool           `json:"executionSuccessful"`
	ToolExecutionNotifications []Notification `json:"toolExecutionNotifications,omitempty"`
}

// Notification is a tool-level message, e.g. a stage failure.
type Notification struct {
	Level   string  `json:"level"`
	Message Message `json:"message"`
}

// Run returns the log's single run, or nil.
func (l *Log) Run() *Run {
	if l == nil || len(l.Runs) == 0 {
		return nil
	}
	return &l.Runs[0]
}

// Results returns the results of the first run.
func (l *Log) Results() []Result {
	if r := l.Run(); r != nil {
		return r.Results
	}
	return nil
}

// Successful reports the first invocation's executionSuccessful flag.
func (l *Log) Successful() bool {
	r := l.Run()
	if r == nil || len(r.Invocations) == 0 {
		return false
	}
	return r.Invocations[0].ExecutionSuccessful
}

// Notifications returns the first invocation's notifications.
func (l *Log) Notifications() []Notification {
	r := l.Run()
	if r == nil || len(r.Invocations) == 0 {
		return nil
	}
	return r.Invocations[0].ToolExecutionNotifications
}

// Marshal renders the log as indented JSON.
func (l *Log) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling SARIF: %w", err)
	}
	return data, nil
}

// Parse decodes a SARIF document.
func Parse(data []byte) (*Log, error) {
	var l Log
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parsing SARIF: %w", err)
	}
	return &l, nil
}

// Minimal returns a well-formed log with no results, marked unsuccessful,
// carrying one notification per error. It is the fallback when the report
// stage itself fails.
func Minimal(toolName, toolVersion string, errs []string, now time.Time) *Log {
	if toolName == "" {
		toolName = "unknown"
	}
	ts := now.UTC().Format(timeLayout)
	inv := Invocation{StartTimeUTC: ts, EndTimeUTC: ts, ExecutionSuccessful: false}
	for _, e := range errs {
		inv.ToolExecutionNotifications = append(inv.ToolExecutionNotifications, Notification{Level: "error", Message: Message{Text: e}})
	}
	return &Log{
		Schema:  SchemaURI,
		Version: Version,
		Runs: []Run{{
			Tool:        Tool{Driver: Driver{Name: toolName, Version: toolVersion, Rules: []Rule{}}},
			Artifacts:   []Artifact{},
			Results:     []Result{},
			Invocations: []Invocation{inv},
		}},
	}
}

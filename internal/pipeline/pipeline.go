package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dshills/gauntlet/internal/config"
	"github.com/dshills/gauntlet/internal/logging"
	"github.com/dshills/gauntlet/internal/sarif"
)

const tracerName = "github.com/dshills/gauntlet/internal/pipeline"

// Stage statuses passed to Recorder.ObserveStage.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusPanic   = "panic"
	StatusSkipped = "skipped"
)

// Recorder receives per-stage measurements.
type Recorder interface {
	ObserveStage(stage, status string, d time.Duration)
	ObserveFindings(stage string, n int)
}

// FallbackFunc builds a report when the terminal stage left none.
type FallbackFunc func(s State) *sarif.Log

// Option configures a compiled Pipeline.
type Option func(*Pipeline)

// WithConfig sets the configuration handed to every stage.
func WithConfig(cfg *config.Config) Option {
	return func(p *Pipeline) { p.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logging.OrNop(l) }
}

// WithTracerProvider sets the provider used for stage spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) {
		if tp != nil {
			p.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithRecorder registers a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithFallback replaces the default minimal-report fallback.
func WithFallback(fn FallbackFunc) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.fallback = fn
		}
	}
}

// WithClock overrides time.Now for the fallback report and durations.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithRunID overrides the generator of per-run ids.
func WithRunID(fn func() string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// Pipeline is a compiled graph. It is safe to Run concurrently; each run
// owns its state.
type Pipeline struct {
	nodes    map[string]*node
	order    []string
	edges    map[string]edge
	entry    string
	terminal string

	cfg      *config.Config
	logger   *zap.Logger
	tracer   trace.Tracer
	recorder Recorder
	fallback FallbackFunc
	now      func() time.Time
	newID    func() string
}

func (p *Pipeline) applyOptions(opts []Option) {
	p.logger = zap.NewNop()
	p.tracer = otel.GetTracerProvider().Tracer(tracerName)
	p.now = time.Now
	p.newID = func() string { return uuid.NewString()[:12] }
	for _, opt := range opts {
		opt(p)
	}
	if p.fallback == nil {
		p.fallback = p.minimalReport
	}
}

// Stages returns the stage names in insertion order.
func (p *Pipeline) Stages() []string {
	return append([]string(nil), p.order...)
}

// Run drives initial through the graph and returns the final state.
//
// Run never fails: stage errors and panics become entries in State.Errors,
// routing failures and cancellation jump to the terminal stage, and the
// terminal stage runs exactly once. State.Report is never nil on return.
func (p *Pipeline) Run(ctx context.Context, initial State) State {
	state := initial
	if state.ToolResults == nil {
		state.ToolResults = ToolResults{}
	}
	runID := p.newID()
	log := p.logger.With(zap.String("run_id", runID))

	ctx, span := p.tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("pipeline.run_id", runID),
			attribute.Int("pipeline.files", len(state.Files)),
		),
	)
	defer span.End()

	start := p.now()
	log.Info("pipeline started", zap.Int("files", len(state.Files)))

	current := p.entry
	for current != p.terminal {
		if err := ctx.Err(); err != nil {
			state.Errors = append(state.Errors, fmt.Sprintf("pipeline cancelled before stage %s: %v", current, err))
			break
		}
		p.step(ctx, &state, current, runID, log)

		next, err := p.next(current, state)
		if err != nil {
			state.Errors = append(state.Errors, err.Error())
			log.Error("routing failed", zap.String("stage", current), zap.Error(err))
			break
		}
		current = next
	}

	// The terminal stage must produce a report even when the caller's
	// context is already done.
	p.step(context.WithoutCancel(ctx), &state, p.terminal, runID, log)
	if state.Report == nil {
		if len(state.Errors) == 0 {
			state.Errors = append(state.Errors, fmt.Sprintf("stage %s: no report produced", p.terminal))
		}
		state.Report = p.fallback(state)
	}

	span.SetAttributes(
		attribute.Int("pipeline.findings", len(state.Findings)),
		attribute.Int("pipeline.errors", len(state.Errors)),
	)
	if len(state.Errors) > 0 {
		span.SetStatus(codes.Error, state.Errors[0])
		log.Warn("pipeline finished with errors",
			zap.Int("errors", len(state.Errors)),
			zap.Int("findings", len(state.Findings)),
			zap.Duration("duration", p.now().Sub(start)),
		)
	} else {
		span.SetStatus(codes.Ok, "")
		log.Info("pipeline finished",
			zap.Int("findings", len(state.Findings)),
			zap.Duration("duration", p.now().Sub(start)),
		)
	}
	return state
}

// next resolves the stage after current.
func (p *Pipeline) next(current string, s State) (string, error) {
	e, ok := p.edges[current]
	if !ok {
		return p.terminal, nil
	}
	if e.router == nil {
		return e.to, nil
	}
	key, err := callRouter(e.router, s)
	if err != nil {
		return "", fmt.Errorf("routing after %s: %w", current, err)
	}
	to, ok := e.routes[key]
	if !ok {
		return "", fmt.Errorf("routing after %s: unknown route %q", current, key)
	}
	return to, nil
}

func callRouter(r Router, s State) (key string, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("router panic: %v", v)
		}
	}()
	return r(s)
}

// step runs one stage and merges its outcome into s.
func (p *Pipeline) step(ctx context.Context, s *State, name, runID string, log *zap.Logger) {
	n := p.nodes[name]
	log = log.With(zap.String("stage", name))

	if n.guard != nil {
		ok, err := n.guard.Eval(*s)
		if err != nil {
			s.Errors = append(s.Errors, fmt.Sprintf("stage %s: %v", name, err))
			s.Skipped = append(s.Skipped, name)
			p.observe(name, StatusSkipped, 0)
			log.Error("guard failed", zap.Error(err))
			return
		}
		if !ok {
			s.Skipped = append(s.Skipped, name)
			p.observe(name, StatusSkipped, 0)
			log.Debug("stage skipped by guard", zap.String("when", n.guard.String()))
			return
		}
	}

	ctx, span := p.tracer.Start(ctx, "stage."+name,
		trace.WithAttributes(
			attribute.String("pipeline.stage", name),
			attribute.String("pipeline.run_id", runID),
			attribute.Bool("pipeline.consolidation", n.consolidation),
		),
	)
	defer span.End()

	rc := RunContext{
		Files: cloneFiles(s.Files),
		Prior: Prior{
			ToolResults: s.ToolResults.Clone(),
			Findings:    cloneFindings(s.Findings),
			Errors:      append([]string(nil), s.Errors...),
			Visited:     append([]string(nil), s.Visited...),
		},
		Config: p.cfg,
		Logger: log,
		RunID:  runID,
	}

	log.Debug("stage starting")
	start := p.now()
	out, panicked, err := runStage(ctx, n.stage, rc)
	d := p.now().Sub(start)
	s.Visited = append(s.Visited, name)

	if err != nil {
		msg := fmt.Sprintf("stage %s: %v", name, err)
		s.Errors = append(s.Errors, msg)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		status := StatusFailed
		if panicked {
			status = StatusPanic
		}
		p.observe(name, status, d)
		log.Error("stage failed", zap.Error(err), zap.Duration("duration", d))
		return
	}

	before := len(s.Findings)
	p.merge(s, name, n, out)
	added := len(s.Findings) - before
	if out.Replace && n.consolidation {
		added = len(s.Findings)
	}

	span.SetAttributes(attribute.Int("pipeline.stage.findings", added))
	span.SetStatus(codes.Ok, "")
	p.observe(name, StatusOK, d)
	if p.recorder != nil && added > 0 {
		p.recorder.ObserveFindings(name, added)
	}
	log.Debug("stage finished", zap.Int("findings", added), zap.Duration("duration", d))
}

// runStage calls the stage, converting a panic into an error.
func runStage(ctx context.Context, st Stage, rc RunContext) (out Outcome, panicked bool, err error) {
	defer func() {
		if v := recover(); v != nil {
			rc.Logger.Debug("stage panic", zap.ByteString("stack", debug.Stack()))
			out = Outcome{}
			err = fmt.Errorf("panic: %v", v)
			panicked = true
		}
	}()
	out, err = st.Run(ctx, rc)
	return out, false, err
}

// merge applies a successful outcome.
func (p *Pipeline) merge(s *State, name string, n *node, out Outcome) {
	if out.Files != nil {
		switch {
		case name == p.entry:
			s.Files = cloneFiles(out.Files)
		case sameFiles(s.Files, out.Files):
			s.Files = cloneFiles(out.Files)
		default:
			s.Errors = append(s.Errors, fmt.Sprintf("stage %s: file list is read-only after %s", name, p.entry))
		}
	}
	if len(out.ToolResults) > 0 {
		s.ToolResults.merge(out.ToolResults)
	}
	switch {
	case out.Replace && n.consolidation:
		s.Findings = cloneFindings(out.Findings)
	case out.Replace:
		s.Errors = append(s.Errors, fmt.Sprintf("stage %s: replace requested by a non-consolidation stage; findings appended", name))
		s.Findings = append(s.Findings, cloneFindings(out.Findings)...)
	default:
		s.Findings = append(s.Findings, cloneFindings(out.Findings)...)
	}
	s.Errors = append(s.Errors, out.Errors...)
	if out.Report != nil {
		s.Report = out.Report
	}
}

func (p *Pipeline) observe(stage, status string, d time.Duration) {
	if p.recorder != nil {
		p.recorder.ObserveStage(stage, status, d)
	}
}

func (p *Pipeline) minimalReport(s State) *sarif.Log {
	name, version := "gauntlet", ""
	if p.cfg != nil && p.cfg.Report.ToolName != "" {
		name, version = p.cfg.Report.ToolName, p.cfg.Report.ToolVersion
	}
	return sarif.Minimal(name, version, s.Errors, p.now())
}

package toolrun

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/gauntlet/internal/config"
)

// OutputSubdir is created under the project root for tools that write
// their report to {output_file}.
const OutputSubdir = ".gauntlet_tool_outputs"

// Placeholder names understood in command templates.
const (
	VarProjectRoot      = "project_root"
	VarFilePath         = "file_path"
	VarRelativeFilePath = "relative_file_path"
	VarOutputFile       = "output_file"
)

// waitDelay bounds how long Wait blocks on inherited pipes after the
// process is killed.
const waitDelay = 2 * time.Second

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Request describes one tool invocation.
type Request struct {
	Category string
	Key      string
	// TargetFile is the file under review, relative to the project root.
	// Empty for project-wide tools.
	TargetFile string
	ExtraVars  map[string]string
	ExpectJSON bool
	// Timeout overrides the configured per-tool timeout when non-zero.
	Timeout time.Duration
}

// Output is the captured result of a tool run.
type Output struct {
	Raw      string
	JSON     any
	IsJSON   bool
	ExitCode int
	Stderr   string
	Duration time.Duration
}

// Observer receives one call per attempted tool execution.
type Observer interface {
	ObserveTool(tool, status string, d time.Duration)
}

// Outcome statuses reported to an Observer.
const (
	StatusOK        = "ok"
	StatusEmpty     = "empty"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
	StatusSkipped   = "skipped"
	StatusNonZero   = "nonzero_exit"
	StatusNotParsed = "parse_error"
)

// Runner executes configured external tools.
type Runner struct {
	cfg      *config.Config
	root     string
	logger   *zap.Logger
	observer Observer
	newID    func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithObserver attaches an execution observer (metrics).
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithIDFunc replaces the uuid generator used for temp output names.
func WithIDFunc(fn func() string) Option {
	return func(r *Runner) { r.newID = fn }
}

// New creates a Runner rooted at cfg.Workspace.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cfg:    cfg,
		root:   cfg.Workspace,
		logger: logger,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Root returns the project root the runner executes in.
func (r *Runner) Root() string {
	return r.root
}

// Run executes the tool identified by req.Category and req.Key.
//
// A nil Output with a nil error means there is nothing to report: the tool
// is not configured, its template could not be resolved, or it exited 0
// without output. Failures to execute are returned as *ToolExecutionError.
func (r *Runner) Run(ctx context.Context, req Request) (*Output, error) {
	tool := req.Category + "." + req.Key
	log := r.logger.With(zap.String("tool", tool))
	if req.TargetFile != "" {
		log = log.With(zap.String("file", req.TargetFile))
	}

	spec, err := r.cfg.ToolSpec(req.Category, req.Key)
	if err != nil {
		log.Error("no command template for tool", zap.Error(err))
		r.observe(tool, StatusSkipped, 0)
		return nil, nil
	}

	vars, outputFile, err := r.vars(spec, req)
	if err != nil {
		log.Error("preparing tool invocation", zap.Error(err))
		r.observe(tool, StatusSkipped, 0)
		return nil, nil
	}

	argv, err := buildArgv(spec.Command, vars)
	if err != nil {
		log.Error("resolving command template", zap.String("template", spec.Command), zap.Error(err))
		r.observe(tool, StatusSkipped, 0)
		return nil, nil
	}

	timeout := spec.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	log.Debug("executing tool", zap.Strings("argv", argv), zap.String("cwd", r.root), zap.Duration("timeout", timeout))
	res, runErr := r.exec(ctx, argv, timeout)

	raw := ""
	if outputFile != "" {
		raw = r.consumeOutputFile(outputFile, log)
	}
	if raw == "" && res != nil {
		raw = strings.TrimSpace(string(res.stdout))
	}

	if runErr != nil {
		te := &ToolExecutionError{Category: req.Category, Key: req.Key, ExitCode: -1, Err: runErr}
		status := StatusFailed
		if errors.Is(runErr, context.DeadlineExceeded) {
			te.Timeout = true
			status = StatusTimeout
			log.Error("tool timed out", zap.Duration("timeout", timeout))
		} else {
			log.Error("tool execution failed", zap.Error(runErr))
		}
		if res != nil {
			te.Stderr = string(res.stderr)
			r.observe(tool, status, res.duration)
		} else {
			r.observe(tool, status, 0)
		}
		return nil, te
	}

	stderr := string(res.stderr)
	if stderr != "" {
		log.Debug("tool stderr", zap.String("stderr", strings.TrimSpace(stderr)))
	}

	if res.exitCode != 0 {
		if strings.TrimSpace(raw) == "" {
			log.Error("tool failed with no output", zap.Int("exit_code", res.exitCode))
			r.observe(tool, StatusFailed, res.duration)
			return nil, &ToolExecutionError{Category: req.Category, Key: req.Key, ExitCode: res.exitCode, Stderr: stderr}
		}
		if !spec.AllowsNonZeroExit() {
			log.Error("tool exited nonzero", zap.Int("exit_code", res.exitCode))
			r.observe(tool, StatusFailed, res.duration)
			return nil, &ToolExecutionError{Category: req.Category, Key: req.Key, ExitCode: res.exitCode, Stderr: stderr}
		}
		log.Warn("tool exited nonzero; using its output", zap.Int("exit_code", res.exitCode))
	}

	if strings.TrimSpace(raw) == "" {
		log.Debug("tool produced no output")
		r.observe(tool, StatusEmpty, res.duration)
		return nil, nil
	}

	out := &Output{
		Raw:      raw,
		ExitCode: res.exitCode,
		Stderr:   stderr,
		Duration: res.duration,
	}

	status := StatusOK
	if res.exitCode != 0 {
		status = StatusNonZero
	}
	if req.ExpectJSON {
		var doc any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			perr := &ParseError{Tool: tool, Err: err}
			log.Warn("tool output is not valid JSON; returning raw text", zap.Error(perr))
			status = StatusNotParsed
		} else {
			out.JSON = doc
			out.IsJSON = true
		}
	}
	r.observe(tool, status, res.duration)
	return out, nil
}

func (r *Runner) observe(tool, status string, d time.Duration) {
	if r.observer != nil {
		r.observer.ObserveTool(tool, status, d)
	}
}

// vars builds the placeholder table. It also allocates the temp output path
// when the command writes to {output_file}.
func (r *Runner) vars(spec config.ToolSpec, req Request) (map[string]string, string, error) {
	vars := map[string]string{VarProjectRoot: r.root}
	for k, v := range spec.Vars {
		vars[k] = v
	}

	if req.TargetFile != "" {
		abs, rel := r.resolveTarget(req.TargetFile)
		vars[VarFilePath] = abs
		vars[VarRelativeFilePath] = rel
	}

	for k, v := range req.ExtraVars {
		vars[k] = v
	}

	var outputFile string
	if spec.WritesOutputFile() {
		dir := filepath.Join(r.root, OutputSubdir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, "", fmt.Errorf("creating tool output directory: %w", err)
		}
		name := fmt.Sprintf("%s_%s_%s_%s.output", spec.Category, spec.Key, safeName(req.TargetFile), r.newID())
		outputFile = filepath.Join(dir, name)
		vars[VarOutputFile] = outputFile
	}
	return vars, outputFile, nil
}

func (r *Runner) resolveTarget(target string) (abs, rel string) {
	if filepath.IsAbs(target) {
		abs = filepath.Clean(target)
		if rp, err := filepath.Rel(r.root, abs); err == nil && !strings.HasPrefix(rp, "..") {
			return abs, filepath.ToSlash(rp)
		}
		return abs, filepath.ToSlash(abs)
	}
	return filepath.Join(r.root, target), filepath.ToSlash(filepath.Clean(target))
}

func (r *Runner) consumeOutputFile(path string, log *zap.Logger) string {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("reading tool output file", zap.String("path", path), zap.Error(err))
		}
		return ""
	}
	if err := os.Remove(path); err != nil {
		log.Warn("removing tool output file", zap.String("path", path), zap.Error(err))
	}
	return strings.TrimSpace(string(data))
}

// buildArgv tokenizes the template first and then substitutes placeholders
// in each token, so substituted paths never split into extra arguments.
func buildArgv(template string, vars map[string]string) ([]string, error) {
	tokens, err := shlex.Split(template)
	if err != nil {
		return nil, fmt.Errorf("tokenizing command: %w", err)
	}
	if len(tokens) == 0 {
		return nil, errors.New("empty command")
	}
	argv := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		expanded, err := expand(tok, vars)
		if err != nil {
			return nil, err
		}
		argv = append(argv, expanded)
	}
	return argv, nil
}

func expand(s string, vars map[string]string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved placeholder(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func safeName(target string) string {
	if target == "" {
		return "global"
	}
	base := filepath.Base(target)
	var b strings.Builder
	for _, c := range base {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

type execResult struct {
	stdout   []byte
	stderr   []byte
	exitCode int
	duration time.Duration
}

// exec runs argv in the project root. A nonzero exit is not an error; only
// failure to start, a timeout or cancellation is.
func (r *Runner) exec(ctx context.Context, argv []string, timeout time.Duration) (*execResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.root
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &execResult{
		stdout:   stdout.Bytes(),
		stderr:   stderr.Bytes(),
		duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil {
		// Exited, but a child kept the output pipes open.
		res.exitCode = cmd.ProcessState.ExitCode()
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.exitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}

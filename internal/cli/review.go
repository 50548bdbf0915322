package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/gauntlet/internal/analyzer"
	"github.com/dshills/gauntlet/internal/cache"
	"github.com/dshills/gauntlet/internal/changes"
	"github.com/dshills/gauntlet/internal/config"
	"github.com/dshills/gauntlet/internal/metrics"
	"github.com/dshills/gauntlet/internal/output"
	"github.com/dshills/gauntlet/internal/pipeline"
	"github.com/dshills/gauntlet/internal/redact"
	"github.com/dshills/gauntlet/internal/review"
	"github.com/dshills/gauntlet/internal/stages"
	"github.com/dshills/gauntlet/internal/telemetry"
	"github.com/dshills/gauntlet/internal/toolrun"
)

// Shared review flags
var (
	flagInclude         string
	flagExclude         string
	flagContextLines    int
	flagMaxFileBytes    int
	flagModel           string
	flagFormat          string
	flagOut             string
	flagFailOn          string
	flagConcurrency     int
	flagTimeout         time.Duration
	flagMetricsTextfile string
	flagNoRedact        bool
	flagNoCache         bool
	flagStrict          bool
)

func addReviewFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagInclude, "include", "", "Include file path globs (comma-separated)")
	cmd.Flags().StringVar(&flagExclude, "exclude", "", "Exclude file path globs (comma-separated)")
	cmd.Flags().IntVar(&flagContextLines, "context-lines", 0, "Number of context lines in git diffs")
	cmd.Flags().IntVar(&flagMaxFileBytes, "max-file-bytes", 0, "Skip files larger than this")
	cmd.Flags().StringVar(&flagModel, "model", "", "Default analyzer model")
	cmd.Flags().StringVar(&flagFormat, "format", "", "Output format (sarif, json, text, markdown)")
	cmd.Flags().StringVarP(&flagOut, "out", "o", "", "Output file path (default: stdout)")
	cmd.Flags().StringVar(&flagFailOn, "fail-on", "", "Exit 1 when a finding is at or above this level (none, note, warning, error)")
	cmd.Flags().IntVar(&flagConcurrency, "concurrency", 0, "Maximum concurrent tool processes")
	cmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "Deadline for the whole run (e.g. 10m)")
	cmd.Flags().StringVar(&flagMetricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file after the run")
	cmd.Flags().BoolVar(&flagNoRedact, "no-redact", false, "Disable secret redaction (use with caution)")
	cmd.Flags().BoolVar(&flagNoCache, "no-cache", false, "Bypass the analyzer response cache")
	cmd.Flags().BoolVar(&flagStrict, "strict", false, "Exit 3 when any stage recorded an error")
}

func buildOverrides() map[string]string {
	m := make(map[string]string)
	if flagModel != "" {
		m["analyzer.model"] = flagModel
	}
	if flagFormat != "" {
		m["format"] = flagFormat
	}
	if flagFailOn != "" {
		m["failOn"] = flagFailOn
	}
	if flagConcurrency > 0 {
		m["concurrency"] = strconv.Itoa(flagConcurrency)
	}
	if flagNoRedact {
		m["privacy.redactSecrets"] = "false"
	}
	if flagNoCache {
		m["cache.enabled"] = "false"
	}
	return m
}

func buildLoader(cfg *config.Config, log *zap.Logger) changes.Loader {
	l := changes.Loader{
		Root:    cfg.Workspace,
		Include: splitComma(flagInclude),
		Exclude: splitComma(flagExclude),
		Logger:  log,
	}
	if flagMaxFileBytes > 0 {
		l.MaxFileBytes = flagMaxFileBytes
	}
	return l
}

func splitComma(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// collector produces the files under review.
type collector func(ctx context.Context, l changes.Loader) ([]review.ChangedFile, error)

// reviewRun loads configuration, collects files and runs the pipeline,
// setting exitCode. Only configuration errors are returned; cobra prints
// them as usage errors.
func reviewRun(cmd *cobra.Command, collect collector) error {
	cfg, err := loadConfig(buildOverrides())
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if !cfg.Privacy.RedactSecrets {
		log.Warn("secret redaction is disabled")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if flagTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagTimeout)
		defer cancel()
	}

	files, err := collect(ctx, buildLoader(cfg, log))
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		exitCode = ExitRuntimeError
		return nil
	}
	log.Info("files collected", zap.Int("files", len(files)))

	exitCode = runPipeline(ctx, cfg, log, files, cmd.OutOrStdout())
	return nil
}

// runPipeline assembles the default graph, runs files through it and
// writes the report. It returns the process exit code.
func runPipeline(ctx context.Context, cfg *config.Config, log *zap.Logger, files []review.ChangedFile, stdout io.Writer) int {
	m := metrics.New()
	runID := uuid.NewString()[:12]

	popts := []pipeline.Option{
		pipeline.WithRecorder(m),
		pipeline.WithRunID(func() string { return runID }),
	}
	tp, shutdown, err := telemetry.New(ctx, cfg.Trace, telemetry.Options{
		ServiceName:    cfg.Report.ToolName,
		ServiceVersion: version,
	})
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	} else {
		popts = append(popts, pipeline.WithTracerProvider(tp))
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				log.Warn("flushing spans", zap.Error(err))
			}
		}()
	}

	p, omitted, err := stages.Build(cfg, stageOptions(cfg, log, m), popts...)
	if err != nil {
		log.Error("building pipeline", zap.Error(err))
		return ExitRuntimeError
	}
	for _, o := range omitted {
		log.Info("stage omitted", zap.String("stage", o.Name), zap.String("reason", o.Reason))
	}

	start := time.Now()
	st := p.Run(ctx, pipeline.NewState(files))
	elapsed := time.Since(start)

	report := output.FromState(st, cfg, runID, elapsed)
	m.ObserveRun(elapsed, len(report.Findings), report.Summary.Successful)
	if flagMetricsTextfile != "" {
		if err := m.WriteTextfile(flagMetricsTextfile); err != nil {
			log.Warn("metrics not written", zap.Error(err))
		}
	}

	if err := writeReport(report, cfg.Format, flagOut, stdout); err != nil {
		log.Error("writing output", zap.Error(err))
		return ExitRuntimeError
	}

	log.Info("review finished",
		zap.String("run_id", runID),
		zap.Int("findings", len(report.Findings)),
		zap.Int("errors", len(st.Errors)),
		zap.Duration("elapsed", elapsed),
	)

	if report.Exceeds(cfg.FailOn) {
		return ExitFindings
	}
	if flagStrict && !report.Summary.Successful {
		return ExitIncomplete
	}
	return ExitSuccess
}

// stageOptions wires the tool runner and analyzer dependencies. A missing
// API key is not fatal: analyzer stages are then omitted from the graph.
func stageOptions(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) stages.Options {
	deps := analyzer.Deps{Redactor: redact.New(cfg.Privacy)}

	client, err := analyzer.NewClient(cfg.Analyzer, log.Named("analyzer"))
	switch {
	case err == nil:
		deps.Client = client
	case errors.Is(err, analyzer.ErrNoAPIKey):
		log.Debug("analyzer client not configured", zap.Error(err))
	default:
		log.Warn("analyzer client unavailable", zap.Error(err))
	}

	if cfg.Cache.Enabled {
		c, err := openCache(cfg, log)
		if err != nil {
			log.Warn("response cache disabled", zap.Error(err))
		} else {
			deps.Cache = c
		}
	}

	return stages.Options{
		Runner: toolrun.New(cfg, log.Named("toolrun"), toolrun.WithObserver(m)),
		Analyzer: func(cfg *config.Config, sc config.StageConfig) (pipeline.Stage, error) {
			st, err := analyzer.NewStage(cfg, sc, deps)
			if err != nil {
				return nil, err
			}
			return st, nil
		},
		Consolidator: func(cfg *config.Config, sc config.StageConfig) (pipeline.Stage, error) {
			st, err := analyzer.NewConsolidator(cfg, sc, deps)
			if err != nil {
				return nil, err
			}
			return st, nil
		},
		Logger: log,
	}
}

func openCache(cfg *config.Config, log *zap.Logger) (*cache.Cache, error) {
	dir, err := cfg.CacheDir()
	if err != nil {
		return nil, err
	}
	return cache.New(cache.Options{
		Dir:    dir,
		TTL:    time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		Logger: log.Named("cache"),
	})
}

func writeReport(report *output.Report, format, outPath string, stdout io.Writer) error {
	if outPath != "" {
		return output.WriteReport(report, format, outPath)
	}
	w, err := output.GetWriter(format)
	if err != nil {
		return err
	}
	return w.Write(stdout, report)
}

func gitSource(mode, rev string) collector {
	return func(ctx context.Context, l changes.Loader) ([]review.ChangedFile, error) {
		return l.FromGit(ctx, changes.GitSource{
			Mode:         mode,
			Rev:          rev,
			MergeBase:    flagMergeBase,
			ContextLines: flagContextLines,
		})
	}
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review code changes",
	Long:  "Run changed files through the stage pipeline. Use subcommands to specify what to review.",
}

var reviewPathsCmd = &cobra.Command{
	Use:   "paths <path>...",
	Short: "Review the named files and directories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRun(cmd, func(_ context.Context, l changes.Loader) ([]review.ChangedFile, error) {
			return l.FromPaths(args)
		})
	},
}

var reviewDiffCmd = &cobra.Command{
	Use:   "diff [file]",
	Short: "Review the files touched by a unified diff (stdin when file is - or omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRun(cmd, func(_ context.Context, l changes.Loader) ([]review.ChangedFile, error) {
			if len(args) == 0 || args[0] == "-" {
				return l.FromReader(cmd.InOrStdin())
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return nil, fmt.Errorf("reading diff: %w", err)
			}
			return l.FromDiff(string(data))
		})
	},
}

var reviewUnstagedCmd = &cobra.Command{
	Use:   "unstaged",
	Short: "Review unstaged changes (working tree vs index)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRun(cmd, gitSource(changes.ModeUnstaged, ""))
	},
}

var reviewStagedCmd = &cobra.Command{
	Use:   "staged",
	Short: "Review staged changes (index vs HEAD)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRun(cmd, gitSource(changes.ModeStaged, ""))
	},
}

var reviewCommitCmd = &cobra.Command{
	Use:   "commit <sha>",
	Short: "Review a specific commit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRun(cmd, gitSource(changes.ModeCommit, args[0]))
	},
}

var flagMergeBase bool

var reviewRangeCmd = &cobra.Command{
	Use:   "range <revRange>",
	Short: "Review a revision range (e.g., origin/main..HEAD)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRun(cmd, gitSource(changes.ModeRange, args[0]))
	},
}

var reviewCodebaseCmd = &cobra.Command{
	Use:   "codebase",
	Short: "Review all tracked files in the repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRun(cmd, func(ctx context.Context, l changes.Loader) ([]review.ChangedFile, error) {
			g := changes.Git{Dir: l.Root}
			meta, err := g.Meta(ctx)
			if err != nil {
				return nil, err
			}
			l.Logger.Debug("reviewing repository", zap.String("head", meta.Head), zap.String("branch", meta.Branch))
			tracked, err := g.Tracked(ctx)
			if err != nil {
				return nil, err
			}
			return l.FromPaths(tracked)
		})
	},
}

var reviewCommands = []*cobra.Command{
	reviewPathsCmd,
	reviewDiffCmd,
	reviewUnstagedCmd,
	reviewStagedCmd,
	reviewCommitCmd,
	reviewRangeCmd,
	reviewCodebaseCmd,
}

func init() {
	for _, cmd := range reviewCommands {
		reviewCmd.AddCommand(cmd)
		addReviewFlags(cmd)
	}

	// Range-specific flags
	reviewRangeCmd.Flags().BoolVar(&flagMergeBase, "merge-base", true, "Use merge base for branch comparisons")
}

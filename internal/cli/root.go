package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/gauntlet/internal/config"
	"github.com/dshills/gauntlet/internal/logging"
)

const version = "0.1.0"

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFindings     = 1
	ExitUsageError   = 2
	ExitIncomplete   = 3
	ExitRuntimeError = 4
)

// Global flags
var (
	flagConfig    string
	flagWorkspace string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "gauntlet",
	Short: "Staged code review pipeline emitting SARIF",
	Long: "Gauntlet runs changed files through external linters and scanners, then " +
		"model-backed analyzer stages, and emits one deduplicated SARIF 2.1.0 report.",
	SilenceUsage: true,
}

// Run executes the root command and returns an exit code.
func Run() int {
	exitCode = ExitSuccess
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error
		return ExitUsageError
	}
	return exitCode
}

// exitCode is set by command handlers to control the process exit code.
var exitCode = ExitSuccess

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print gauntlet version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "gauntlet version %s\n", version)
	},
}

// loadConfig builds the effective configuration from the global flags and
// the given overrides.
func loadConfig(overrides map[string]string) (*config.Config, error) {
	if overrides == nil {
		overrides = map[string]string{}
	}
	if flagLogLevel != "" {
		overrides["log.level"] = flagLogLevel
	}
	if flagLogFormat != "" {
		overrides["log.format"] = flagLogFormat
	}
	return config.Load(config.Options{
		Path:      flagConfig,
		Workspace: flagWorkspace,
		Overrides: overrides,
	})
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Config file (default: .gauntlet.yml in the workspace)")
	pf.StringVarP(&flagWorkspace, "workspace", "w", "", "Project root (default: current directory)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFormat, "log-format", "", "Log format (console, json)")

	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(versionCmd)
}

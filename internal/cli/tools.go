package cli

import (
	"fmt"
	"os/exec"
	"strings"
	"text/tabwriter"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/dshills/gauntlet/internal/config"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect configured external tools",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		refs := cfg.Tools.Refs()
		if len(refs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tools configured.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TOOL\tTARGET\tPARSER\tLANGUAGES\tCOMMAND")
		for _, ref := range refs {
			spec, err := cfg.ToolSpec(ref.Category, ref.Key)
			if err != nil {
				fmt.Fprintf(tw, "%s\t-\t-\t-\t(%v)\n", ref, err)
				continue
			}
			langs := strings.Join(spec.Languages, ",")
			if langs == "" {
				langs = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ref, spec.Target, spec.Parser, langs, spec.Command)
		}
		return tw.Flush()
	},
}

var toolsCheckCmd = &cobra.Command{
	Use:   "check [category.key]...",
	Short: "Check that tool executables are on PATH",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		refs := cfg.Tools.Refs()
		if len(args) > 0 {
			refs = refs[:0]
			for _, a := range args {
				ref, err := config.ParseToolRef(a)
				if err != nil {
					return err
				}
				refs = append(refs, ref)
			}
		}

		missing := 0
		for _, ref := range refs {
			bin, err := toolBinary(cfg, ref)
			if err == nil {
				_, err = exec.LookPath(bin)
			}
			if err != nil {
				missing++
				fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", ref, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK   %s (%s)\n", ref, bin)
		}
		if missing > 0 {
			exitCode = ExitRuntimeError
		}
		return nil
	},
}

// toolBinary returns the executable named by a tool's command template.
func toolBinary(cfg *config.Config, ref config.ToolRef) (string, error) {
	spec, err := cfg.ToolSpec(ref.Category, ref.Key)
	if err != nil {
		return "", err
	}
	argv, err := shlex.Split(spec.Command)
	if err != nil {
		return "", fmt.Errorf("tokenizing command: %w", err)
	}
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command")
	}
	if strings.Contains(argv[0], "{") {
		return "", fmt.Errorf("executable %q is a placeholder", argv[0])
	}
	return argv[0], nil
}

func init() {
	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsCheckCmd)
}

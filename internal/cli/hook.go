package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/dshills/gauntlet/internal/changes"
	"github.com/dshills/gauntlet/internal/config"
)

const (
	hookMarkerStart = "# >>> gauntlet pre-commit hook >>>"
	hookMarkerEnd   = "# <<< gauntlet pre-commit hook <<<"
	hookShebang     = "#!/bin/sh"
)

// Exit 1 (findings) and 3 (incomplete, with --strict) block the commit.
// Any other failure means the review could not run and the commit proceeds.
var hookTemplate = template.Must(template.New("hook").Parse(hookMarkerStart + `
gauntlet review staged {{.Args}}
GAUNTLET_EXIT=$?
if [ $GAUNTLET_EXIT -eq 1 ] || [ $GAUNTLET_EXIT -eq 3 ]; then
  echo "gauntlet: review failed (exit $GAUNTLET_EXIT), commit blocked"
  exit 1
elif [ $GAUNTLET_EXIT -ne 0 ]; then
  echo "gauntlet: review could not run (exit $GAUNTLET_EXIT), allowing commit"
fi
` + hookMarkerEnd + "\n"))

var (
	hookFailOn string
	hookFormat string
	hookStrict bool
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Manage the git pre-commit hook",
}

var hookInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install gauntlet as a git pre-commit hook",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkHookFlags(); err != nil {
			return err
		}
		path, err := getHookPath(cmd)
		if err != nil {
			return hookFailure(cmd, err)
		}
		if err := installHook(path, generateHookScript(hookFailOn, hookFormat, hookStrict)); err != nil {
			return hookFailure(cmd, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Installed gauntlet pre-commit hook at %s\n", path)
		return nil
	},
}

var hookUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the gauntlet section from the pre-commit hook",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := getHookPath(cmd)
		if err != nil {
			return hookFailure(cmd, err)
		}
		result, err := uninstallHook(path)
		if err != nil {
			return hookFailure(cmd, err)
		}
		out := cmd.OutOrStdout()
		switch result {
		case hookMissing:
			fmt.Fprintln(out, "No pre-commit hook found.")
		case hookDeleted:
			fmt.Fprintf(out, "Removed gauntlet pre-commit hook at %s\n", path)
		case hookEdited:
			fmt.Fprintf(out, "Removed gauntlet section from %s\n", path)
		}
		return nil
	},
}

var hookStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the gauntlet pre-commit hook is installed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := getHookPath(cmd)
		if err != nil {
			return hookFailure(cmd, err)
		}
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return hookFailure(cmd, err)
		}
		if _, _, ok := cutHookSection(string(data)); ok {
			fmt.Fprintf(cmd.OutOrStdout(), "installed: %s\n", path)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "not installed")
		}
		return nil
	},
}

func hookFailure(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	exitCode = ExitRuntimeError
	return nil
}

// checkHookFlags rejects values the generated review command would refuse.
func checkHookFlags() error {
	probe := config.Default()
	if err := config.SetField(&probe, "failOn", hookFailOn); err != nil {
		return err
	}
	if err := config.SetField(&probe, "format", hookFormat); err != nil {
		return err
	}
	return config.Validate(&probe)
}

func getHookPath(cmd *cobra.Command) (string, error) {
	dir := flagWorkspace
	if dir == "" {
		dir = "."
	}
	gitDir, err := changes.Git{Dir: dir}.GitDir(cmd.Context())
	if err != nil {
		return "", err
	}
	return filepath.Join(gitDir, "hooks", "pre-commit"), nil
}

func generateHookScript(failOn, format string, strict bool) string {
	args := fmt.Sprintf("--fail-on %s --format %s", failOn, format)
	if strict {
		args += " --strict"
	}
	var b strings.Builder
	// The template is static and its only field is a string.
	_ = hookTemplate.Execute(&b, struct{ Args string }{args})
	return b.String()
}

func installHook(path, section string) error {
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading hook file: %w", err)
	}
	content := hookShebang + "\n" + section
	if len(existing) > 0 {
		content = replaceHookSection(string(existing), section)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating hooks directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		return fmt.Errorf("writing hook file: %w", err)
	}
	return nil
}

type uninstallResult int

const (
	hookMissing uninstallResult = iota
	hookDeleted
	hookEdited
)

// uninstallHook strips the gauntlet section and deletes the file when only
// a shebang is left.
func uninstallHook(path string) (uninstallResult, error) {
	existing, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return hookMissing, nil
	}
	if err != nil {
		return hookMissing, fmt.Errorf("reading hook file: %w", err)
	}

	content := removeHookSection(string(existing))
	switch strings.TrimSpace(content) {
	case "", hookShebang, "#!/bin/bash":
		if err := os.Remove(path); err != nil {
			return hookMissing, fmt.Errorf("removing hook file: %w", err)
		}
		return hookDeleted, nil
	}
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		return hookMissing, fmt.Errorf("writing hook file: %w", err)
	}
	return hookEdited, nil
}

// cutHookSection splits existing around the marked section. The newline
// after the end marker belongs to the section.
func cutHookSection(existing string) (before, after string, found bool) {
	start := strings.Index(existing, hookMarkerStart)
	end := strings.Index(existing, hookMarkerEnd)
	if start == -1 || end == -1 || end < start {
		return existing, "", false
	}
	after = strings.TrimPrefix(existing[end+len(hookMarkerEnd):], "\n")
	return existing[:start], after, true
}

func replaceHookSection(existing, section string) string {
	before, after, found := cutHookSection(existing)
	if !found {
		if !strings.HasSuffix(existing, "\n") {
			existing += "\n"
		}
		return existing + section
	}
	return before + section + after
}

func removeHookSection(existing string) string {
	before, after, found := cutHookSection(existing)
	if !found {
		return existing
	}
	return before + after
}

func init() {
	hookCmd.AddCommand(hookInstallCmd, hookUninstallCmd, hookStatusCmd)
	hookInstallCmd.Flags().StringVar(&hookFailOn, "fail-on", "error", "Block the commit at or above this level (none, note, warning, error)")
	hookInstallCmd.Flags().StringVar(&hookFormat, "format", "text", "Output format (sarif, json, text, markdown)")
	hookInstallCmd.Flags().BoolVar(&hookStrict, "strict", false, "Block the commit when a stage fails")
}

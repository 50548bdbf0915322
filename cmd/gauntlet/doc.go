// Gauntlet runs changed files through a staged review pipeline and emits a
// single SARIF 2.1.0 report.
//
// External linters and scanners run first, then model-backed analyzer
// stages, then an optional consolidation stage. Findings are deduplicated
// and the process exits with a deterministic code suitable for CI gating
// and git hooks.
//
// Usage:
//
//	gauntlet review paths src/           # review files and directories
//	gauntlet review diff change.patch    # review files touched by a diff
//	git diff | gauntlet review diff      # same, from stdin
//	gauntlet review staged               # review staged changes
//	gauntlet review range origin/main..HEAD
//	gauntlet tools check                 # verify tool executables
//	gauntlet hook install --fail-on error # gate commits on findings
package main

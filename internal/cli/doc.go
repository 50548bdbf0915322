// Package cli wires together the Cobra command tree for the gauntlet binary.
//
// It defines the root command and all subcommands (review, config, tools,
// cache, hook, version), binds flags, loads configuration, assembles the
// stage pipeline, and returns deterministic exit codes for CI gating.
package cli

// Package config loads and merges gauntlet configuration from multiple sources.
//
// Precedence (highest to lowest):
//  1. CLI flags
//  2. Environment variables (GAUNTLET_FORMAT, GAUNTLET_FAIL_ON, GAUNTLET_CONCURRENCY, etc.)
//  3. Project config directory (tools.yml and prompts/, merged per tool key)
//  4. Config file (.gauntlet.yml in the workspace, or --config)
//  5. Built-in defaults
//
// Tools are declared per category and key. A tool entry is either a command
// template string or a mapping with the invocation details; see [ToolSpec].
package config

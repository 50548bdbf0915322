// Package output renders the result of a pipeline run.
//
// Four formats are supported:
//   - sarif:    the SARIF 2.1.0 log built by the report stage (default)
//   - json:     run summary plus the accumulated findings
//   - text:     human-readable terminal output
//   - markdown: PR-comment-friendly with collapsible sections per level
//
// Build a [Report] from the final pipeline state with [FromState], obtain a
// [Writer] with [GetWriter], or use [WriteReport] to pick the destination.
package output

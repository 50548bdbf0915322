// Package sarif aggregates findings into a SARIF 2.1.0 log.
//
// A [Builder] is created once per run. It deduplicates artifacts by
// normalized path and rules by id (first definition wins), maps severity
// terms through the review taxonomy and records the invocation status and
// notifications. Paths inside the workspace root are written relative to
// the SRCROOT base id.
package sarif

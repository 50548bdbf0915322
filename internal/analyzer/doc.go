// Package analyzer implements model-backed pipeline stages.
//
// An analyzer [Stage] sends each matching file (redacted, line-numbered) to
// an OpenAI-compatible chat endpoint and turns the JSON reply into
// findings. The [Consolidator] stage sends all prior findings back to the
// model for de-duplication and validation and replaces the findings list
// with its answer. Replies are cached on disk when a cache is configured.
package analyzer

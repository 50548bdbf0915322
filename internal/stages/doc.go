// Package stages holds the built-in pipeline stages and assembles the
// default graph.
//
// The graph is prepare → tools → configured analyzers → consolidate →
// report. prepare routes straight to report when there are no files.
// Analyzer and consolidation stages are added only when their model is
// configured, so their edges disappear with them.
package stages

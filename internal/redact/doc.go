// Package redact scrubs secrets from file content before it is sent to an
// analyzer model.
//
// Matching is heuristic: a fixed set of named regular expressions for
// common credential shapes. Files whose path matches a configured glob are
// withheld entirely. Replacements never span lines, so line numbers
// reported against redacted content stay valid.
package redact

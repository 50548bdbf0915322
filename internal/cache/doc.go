// Package cache stores analyzer responses on disk so unchanged inputs are
// not sent to the model twice.
//
// Entries are JSON files named by the SHA-256 of their key material (stage,
// model, prompt and redacted content). Expired entries are ignored on read
// and removed by Prune and Clear.
package cache

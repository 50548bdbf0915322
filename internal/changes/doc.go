// Package changes turns a change set into the ChangedFile list a pipeline
// run starts from.
//
// Files come from explicit paths, from a unified diff (read from a file or
// stdin), or from git itself: unstaged, staged, a single commit or a
// revision range. Diffs are parsed with sourcegraph/go-diff; each file keeps
// its hunks as DiffHunks and its current working-tree content. Include and
// exclude globs, a per-file size limit and binary detection decide which
// files are kept.
package changes

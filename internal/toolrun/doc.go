// Package toolrun executes configured external analysis tools.
//
// A tool is identified by category and key in the configuration. The
// [Runner] resolves its command template, tokenizes it without a shell,
// runs it in the project root under a timeout and captures stdout or the
// file the tool was told to write via {output_file}. Output can be decoded
// as JSON and converted into findings by one of the built-in parsers
// (semgrep, pylint, trivy, generic); see [Findings].
package toolrun

package toolrun

import (
	"errors"
	"fmt"
	"strings"
)

// ToolExecutionError is returned when a tool ran (or tried to) and failed.
type ToolExecutionError struct {
	Category string
	Key      string
	ExitCode int
	Stderr   string
	Timeout  bool
	Err      error
}

func (e *ToolExecutionError) Error() string {
	tool := e.Category + "." + e.Key
	switch {
	case e.Timeout:
		return fmt.Sprintf("tool %s timed out", tool)
	case e.Err != nil:
		return fmt.Sprintf("tool %s failed: %v", tool, e.Err)
	default:
		msg := fmt.Sprintf("tool %s exited with code %d", tool, e.ExitCode)
		if s := firstLine(e.Stderr); s != "" {
			msg += ": " + s
		}
		return msg
	}
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// IsToolExecution reports whether err is or wraps a *ToolExecutionError.
func IsToolExecution(err error) bool {
	var te *ToolExecutionError
	return errors.As(err, &te)
}

// ParseError records tool output that could not be decoded. It is logged,
// never returned from Runner.Run.
type ParseError struct {
	Tool    string
	Skipped int
	Err     error
}

func (e *ParseError) Error() string {
	if e.Skipped > 0 {
		return fmt.Sprintf("parse %s output: skipped %d item(s): %v", e.Tool, e.Skipped, e.Err)
	}
	return fmt.Sprintf("parse %s output: %v", e.Tool, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

package output

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONWriter emits the run summary and findings as one indented object.
// Messages are written without HTML escaping.
type JSONWriter struct{}

func (j *JSONWriter) Write(w io.Writer, report *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encoding JSON report: %w", err)
	}
	return nil
}

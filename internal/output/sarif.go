package output

import (
	"errors"
	"fmt"
	"io"
)

// SARIFWriter outputs the SARIF log produced by the report stage.
type SARIFWriter struct{}

func (s *SARIFWriter) Write(w io.Writer, report *Report) error {
	if report == nil || report.SARIF == nil {
		return errors.New("no SARIF log in report")
	}
	data, err := report.SARIF.Marshal()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("writing SARIF: %w", err)
	}
	_, err = fmt.Fprintln(w)
	return err
}

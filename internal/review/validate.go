package review

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var findingValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json field names so errors match the wire format.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// MalformedFindingError reports a finding that is missing a required field
// or carries an out-of-range value. Such findings are dropped, not fatal.
type MalformedFindingError struct {
	Field  string
	Reason string
	Stage  string
}

func (e *MalformedFindingError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("malformed finding from %s: %s %s", e.Stage, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed finding: %s %s", e.Field, e.Reason)
}

// Validate checks the required field set of a finding.
func Validate(f Finding) error {
	if strings.TrimSpace(f.FilePath) == "" {
		return &MalformedFindingError{Field: "filePath", Reason: "is required", Stage: f.SourceStage}
	}
	if strings.TrimSpace(f.Message) == "" {
		return &MalformedFindingError{Field: "message", Reason: "is required", Stage: f.SourceStage}
	}
	err := findingValidate.Struct(f)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &MalformedFindingError{
			Field:  fe.Field(),
			Reason: fmt.Sprintf("failed %q (value %v)", fe.Tag(), fe.Value()),
			Stage:  f.SourceStage,
		}
	}
	return &MalformedFindingError{Field: "finding", Reason: err.Error(), Stage: f.SourceStage}
}

// IsMalformed reports whether err is a MalformedFindingError.
func IsMalformed(err error) bool {
	var m *MalformedFindingError
	return errors.As(err, &m)
}

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var configValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the config for invalid values.
func Validate(cfg *Config) error {
	if err := configValidate.Struct(cfg); err != nil {
		return describe("config", err)
	}
	for _, ref := range cfg.Tools.Refs() {
		spec, _ := cfg.Tools.Lookup(ref.Category, ref.Key)
		if err := configValidate.Struct(spec); err != nil {
			return describe("tools."+ref.String(), err)
		}
	}
	seen := make(map[string]bool, len(cfg.Stages))
	for _, s := range cfg.Stages {
		if seen[s.Name] {
			return fmt.Errorf("stages: duplicate stage name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

func describe(scope string, err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%s: %w", scope, err)
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%s: invalid configuration: %s", scope, strings.Join(parts, "; "))
}

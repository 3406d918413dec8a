package poemlet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance used across the package.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidatePoemConfig reports whether pc can be turned into a poem.
// The theme is not checked; an empty theme still yields a poem.
func ValidatePoemConfig(pc PoemConfig) error {
	return describe(validate.Struct(pc))
}

// CheckConfig validates the struct-level constraints of cfg (backend names,
// sampling ranges, timeouts). Use ValidateConfig for softer warnings.
func CheckConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	return describe(validate.Struct(cfg))
}

// describe flattens validator errors into one readable message.
func describe(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

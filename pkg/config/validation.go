package config

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

// Validator is implemented by config structs that need checks beyond
// what `validate` tags express, such as rules spanning several fields.
// It runs after tag validation succeeds. Errors that are not already
// *sserr.Error are wrapped with [sserr.CodeValidation].
type Validator interface {
	Validate() error
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

func validate(cfg any) error {
	if err := structValidator.Struct(cfg); err != nil {
		return tagError(err)
	}

	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isSSErr := sserr.AsError(err); isSSErr {
				return err
			}
			return sserr.Wrap(err, sserr.CodeValidation, "config: custom validation failed")
		}
	}
	return nil
}

// tagError reports the first failing field by its dotted path below the
// root struct, e.g. "JWKS.URL".
func tagError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return sserr.Wrap(err, sserr.CodeValidation, "config: validation failed")
	}

	fe := fieldErrs[0]
	path := fe.StructNamespace()
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}

	if fe.Tag() == "required" {
		return sserr.Newf(sserr.CodeValidationRequired,
			"config: required field %q is empty", path)
	}
	return sserr.Newf(sserr.CodeValidation,
		"config: field %q failed %q validation", path, fe.Tag()).WithDetail("field", path)
}

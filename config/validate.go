package config

import (
	stdErrors "errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/reglet-dev/portbridge/domain/errors"
)

// validate is a package-level singleton; building a validator caches struct metadata.
var validate = validator.New()

// Validate checks cfg against its validation tags. Defaults are not applied.
// The first failing field is reported as a *errors.ConfigError.
func Validate(cfg MemoryConfig) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if stdErrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &errors.ConfigError{
			Field: fe.Field(),
			Err:   fmt.Errorf("value %v failed %q constraint %s", fe.Value(), fe.Tag(), fe.Param()),
		}
	}
	return &errors.ConfigError{Err: err}
}

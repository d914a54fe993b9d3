package config

import (
	"reflect"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
)

// Validator is implemented by configuration structs with cross-field
// rules, such as a grant whose algorithm allow-list must be known or a
// server whose store backend selects which nested section is checked.
// Validate runs after every `required:"true"` field is present.
//
// An *sserr.Error is returned as-is; any other error is wrapped with
// [sserr.CodeValidation].
//
//	func (c Config) Validate() error {
//	    if c.ClockSkew < 0 {
//	        return sserr.New(sserr.CodeValidation, "grant: clock skew must not be negative")
//	    }
//	    return nil
//	}
type Validator interface {
	Validate() error
}

// validate checks required fields, then calls Validator when cfg
// implements it.
func validate(cfg any, rv reflect.Value, envPrefix string) error {
	if err := validateRequired(rv, "", envPrefix); err != nil {
		return err
	}

	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		if _, isSSErr := sserr.AsError(err); isSSErr {
			return err
		}
		return sserr.Wrap(err, sserr.CodeValidation, "config: validation failed")
	}
	return nil
}

// validateRequired reports the first empty `required:"true"` field as
// [sserr.CodeValidationRequired]. The message names the variable that
// would set it, e.g. TOKENSERVER_GRANT_KEY_SOURCE, and the details carry
// both the dotted field path ("Grant.KeySource") and that variable.
func validateRequired(rv reflect.Value, path, envPrefix string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}
		envTag := sf.Tag.Get("env")

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := validateRequired(field, fieldPath, joinEnv(envPrefix, envTag)); err != nil {
				return err
			}
			continue
		}

		if sf.Tag.Get("required") != "true" || !field.IsZero() {
			continue
		}

		err := sserr.Newf(sserr.CodeValidationRequired, "config: %s is required", fieldPath).
			WithDetail("field", fieldPath)
		if envTag != "" {
			envKey := joinEnv(envPrefix, envTag)
			err = sserr.Newf(sserr.CodeValidationRequired, "config: %s is required (set %s)", fieldPath, envKey).
				WithDetails(map[string]any{"field": fieldPath, "env": envKey})
		}
		return err
	}

	return nil
}

// joinEnv appends tag to an environment variable prefix with "_".
func joinEnv(prefix, tag string) string {
	switch {
	case tag == "":
		return prefix
	case prefix == "":
		return tag
	default:
		return prefix + "_" + tag
	}
}

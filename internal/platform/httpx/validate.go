package httpx

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/clipgate/clipgate/internal/shared"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// Validate checks a request schema. Missing required fields are reported
// together; otherwise malformed fields are reported.
func Validate(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	var missing, invalid []string
	for _, fe := range fieldErrs {
		if strings.HasPrefix(fe.Tag(), "required") {
			missing = appendUnique(missing, fe.Field())
			continue
		}
		invalid = appendUnique(invalid, fe.Field())
	}
	if len(missing) > 0 {
		return shared.NewValidationError(missing...)
	}
	return &shared.ValidationError{Fields: invalid, Reason: "Invalid fields"}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lyzr/mutwizard/common/residue"
)

// ErrInvalidRequest wraps every request validation failure
var ErrInvalidRequest = errors.New("invalid request")

// RequestValidator validates bound request bodies. It satisfies
// echo.Validator.
//
// Besides the stock tags it knows:
//   - aminoacid: a recognised three-letter code (case-insensitive)
//   - residue:   canonical residue text, e.g. "A 123" or "B 52A"
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a validator with the domain tags registered
func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report json field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("aminoacid", func(fl validator.FieldLevel) bool {
		return residue.IsRecognized(residue.Normalize(fl.Field().String()))
	})
	_ = v.RegisterValidation("residue", func(fl validator.FieldLevel) bool {
		_, err := residue.Parse(fl.Field().String())
		return err == nil
	})

	return &RequestValidator{validate: v}
}

// Validate implements echo.Validator
func (rv *RequestValidator) Validate(i interface{}) error {
	err := rv.validate.Struct(i)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "aminoacid":
		return fmt.Sprintf("%s: %q is not a recognised amino acid code", fe.Field(), fe.Value())
	case "residue":
		return fmt.Sprintf("%s: %q is not a residue like \"A 123\"", fe.Field(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "min", "max":
		return fmt.Sprintf("%s must be %s %s", fe.Field(), map[string]string{"min": ">=", "max": "<="}[fe.Tag()], fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

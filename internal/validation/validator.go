// Package validation checks segments and API requests before they reach the
// engine.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// Limits applied on top of struct tags.
const (
	MaxIngestBatch = 5000
	MaxHops        = 10
	MaxTopK        = 50
)

var (
	validate = newValidate()

	assetPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,31}$`)
	networkPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)
)

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("segment_type", func(fl validator.FieldLevel) bool {
		_, ok := domain.ParseSegmentType(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("asset", func(fl validator.FieldLevel) bool {
		return assetPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("network", func(fl validator.FieldLevel) bool {
		return networkPattern.MatchString(strings.ToLower(fl.Field().String()))
	})
	return v
}

// Error is a single field failure.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string { return e.Field + ": " + e.Message }

// IsValidation reports whether err carries a field failure.
func IsValidation(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

// formatValidationError reduces validator errors to the first field failure.
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	e := verrs[0]
	field, param := e.Field(), e.Param()
	switch e.Tag() {
	case "required":
		return &Error{field, "field is required"}
	case "min", "gte":
		return &Error{field, "must be at least " + param}
	case "max", "lte":
		return &Error{field, "must not exceed " + param}
	case "gt":
		return &Error{field, "must be greater than " + param}
	case "segment_type":
		return &Error{field, fmt.Sprintf("unknown segment type %q", e.Value())}
	case "asset", "network":
		return &Error{field, fmt.Sprintf("invalid %s %q", e.Tag(), e.Value())}
	default:
		return &Error{field, fmt.Sprintf("validation failed (%s)", e.Tag())}
	}
}

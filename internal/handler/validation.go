package handler

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Qmop1967/Clients-Console-sub001/pkg/apierror"
)

// newValidator reports fields by their query parameter names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("query"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError converts validator output into the API error envelope.
func validationError(err error) *apierror.Error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return apierror.BadRequest(err.Error())
	}
	details := make([]apierror.FieldError, 0, len(ve))
	for _, e := range ve {
		details = append(details, apierror.FieldError{Field: e.Field(), Message: validationMessage(e)})
	}
	return apierror.ValidationError("Request validation failed", details...)
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "gte":
		return "Must be greater than or equal to " + e.Param()
	case "lte":
		return "Must be less than or equal to " + e.Param()
	case "max":
		return "Must contain at most " + e.Param() + " entries"
	default:
		return "Invalid value"
	}
}

// queryInt parses an optional integer query parameter.
func queryInt(raw, field string) (int, *apierror.Error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierror.ValidationError("Request validation failed",
			apierror.FieldError{Field: field, Message: "Must be an integer"})
	}
	return n, nil
}

// queryBool treats "1", "true" and "yes" as true.
func queryBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

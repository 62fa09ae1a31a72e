// Package validation decodes and validates request bodies and query parameters.
package validation

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/form/v4"
	"github.com/go-playground/validator/v10"

	"github.com/callinsights/hub/internal/api/response"
	"github.com/callinsights/hub/internal/models"
)

var (
	// Registrations are not thread-safe; they happen in init only.
	validate *validator.Validate
	decoder  *form.Decoder
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(wireName)

	decoder = form.NewDecoder()

	if err := validate.RegisterValidation("content_type", validateContentType); err != nil {
		slog.Error("Failed to register content_type validator", "error", err)
	}

	if err := validate.RegisterValidation("no_null_bytes", validateNoNullBytes); err != nil {
		slog.Error("Failed to register no_null_bytes validator", "error", err)
	}

	decoder.RegisterCustomTypeFunc(func(vals []string) (any, error) {
		if len(vals) == 0 || vals[0] == "" {
			return (*time.Time)(nil), nil
		}

		t, err := time.Parse(time.RFC3339, vals[0])
		if err != nil {
			return nil, fmt.Errorf("invalid date format, expected RFC3339 (ISO 8601): %w", err)
		}

		return &t, nil
	}, (*time.Time)(nil))
}

// wireName reports fields by their JSON (or query) name so messages match what clients sent.
func wireName(field reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name, _, _ := strings.Cut(field.Tag.Get(tag), ",")
		if name == "-" {
			return ""
		}

		if name != "" {
			return name
		}
	}

	return field.Name
}

// Error is a failed validation. It keeps the per-field errors for the problem response.
type Error struct {
	fields validator.ValidationErrors
}

func (e *Error) Error() string {
	messages := make([]string, 0, len(e.fields))
	for _, fe := range e.fields {
		messages = append(messages, formatFieldError(fe))
	}

	return "validation failed: " + strings.Join(messages, "; ")
}

// Unwrap exposes the underlying validator errors.
func (e *Error) Unwrap() error {
	return e.fields
}

// ValidateStruct validates s. Field failures are returned as *Error.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fields validator.ValidationErrors
	if errors.As(err, &fields) {
		return &Error{fields: fields}
	}

	return fmt.Errorf("validate request: %w", err)
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Field()

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "content_type":
		return field + " must be one of: " + strings.Join(contentTypeNames(), ", ")
	case "url":
		return field + " must be a valid URL"
	case "no_null_bytes":
		return field + " must not contain NULL bytes"
	default:
		return field + " is invalid"
	}
}

func contentTypeNames() []string {
	names := make([]string, 0, len(models.ContentTypes))
	for _, ct := range models.ContentTypes {
		names = append(names, string(ct))
	}

	return names
}

// RespondValidationError writes a 400 problem. Field errors are listed under "errors" with the
// JSON path of each field.
func RespondValidationError(w http.ResponseWriter, err error) {
	problem := response.ProblemDetails{
		Type:   "about:blank",
		Title:  "Validation Error",
		Status: http.StatusBadRequest,
		Detail: err.Error(),
	}

	var verr *Error
	if errors.As(err, &verr) {
		for _, fe := range verr.fields {
			problem.Errors = append(problem.Errors, response.ErrorDetail{
				Location: fieldPath(fe.Namespace()),
				Message:  formatFieldError(fe),
				Value:    fe.Value(),
			})
		}
	}

	response.RespondProblem(w, problem)
}

// fieldPath drops the root struct name: "SearchRequest.filters.sentiments[0]" -> "filters.sentiments[0]".
func fieldPath(namespace string) string {
	_, path, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}

	return path
}

// ValidateAndDecodeQueryParams decodes URL query parameters into dst and validates it.
func ValidateAndDecodeQueryParams(r *http.Request, dst any) error {
	if err := decoder.Decode(dst, r.URL.Query()); err != nil {
		return fmt.Errorf("failed to decode query parameters: %w", err)
	}

	return ValidateStruct(dst)
}

func validateContentType(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.String {
		return false
	}

	return models.ContentType(field.String()).IsValid()
}

// validateNoNullBytes rejects strings (or non-nil *string) containing NUL, which Postgres text refuses.
func validateNoNullBytes(fl validator.FieldLevel) bool {
	field := fl.Field()

	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return true
		}

		field = field.Elem()
	}

	if field.Kind() != reflect.String {
		return true
	}

	return !strings.Contains(field.String(), "\x00")
}

package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"tasseo/internal/types"
)

// Validator wraps go-playground/validator for request bodies.
type Validator struct {
	v      *validator.Validate
	logger *slog.Logger
}

// NewValidator creates a Validator that reports fields by their JSON names.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return &Validator{v: v, logger: logger}
}

// ValidateStruct checks the struct tags of req. The error is an AppError
// with code validation_invalid_request_body and the failing fields in
// Details["fields"].
func (val *Validator) ValidateStruct(req any) error {
	err := val.v.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		val.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationRequestBody,
		"request body failed validation", err,
		map[string]any{"fields": fields},
	)
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}

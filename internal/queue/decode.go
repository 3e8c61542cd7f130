package queue

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"tasseo/internal/types"
)

var validate = validator.New()

// DecodePayload unmarshals the job payload into dst and validates its struct
// tags. Any failure is fatal: a malformed payload fails the same way on every
// attempt.
func DecodePayload(job *types.Job, dst any) error {
	if err := json.Unmarshal(job.Payload, dst); err != nil {
		return types.Fatal(types.NewAppError(types.ErrCodeValidationPayload, "malformed job payload", err))
	}
	if err := validate.Struct(dst); err != nil {
		return types.Fatal(types.NewAppError(types.ErrCodeValidationPayload, "job payload failed validation", err))
	}
	return nil
}

package middleware

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	algotypes "github.com/algorand/go-algorand-sdk/v2/types"

	apperrors "github.com/better-wallet/wallet-core/pkg/errors"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// Validator accumulates field errors for one request
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// AddError adds a validation error
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Required validates that a string is not empty
func (v *Validator) Required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
		return false
	}
	return true
}

// MaxLength validates maximum string length
func (v *Validator) MaxLength(field, value string, maxLen int) bool {
	if len(value) > maxLen {
		v.AddError(field, fmt.Sprintf("must be at most %d characters", maxLen))
		return false
	}
	return true
}

// OneOf validates that a value is one of the allowed values
func (v *Validator) OneOf(field, value string, allowed []string) bool {
	if slices.Contains(allowed, value) {
		return true
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
	return false
}

// Base64 decodes a required standard base64 blob, recording an error on failure
func (v *Validator) Base64(field, value string) []byte {
	if !v.Required(field, value) {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil || len(raw) == 0 {
		v.AddError(field, "must be non-empty base64")
		return nil
	}
	return raw
}

// Base64List decodes every entry of a required list of blobs
func (v *Validator) Base64List(field string, values []string, maxItems int) [][]byte {
	if len(values) == 0 {
		v.AddError(field, "must contain at least one transaction")
		return nil
	}
	if len(values) > maxItems {
		v.AddError(field, fmt.Sprintf("must contain at most %d transactions", maxItems))
		return nil
	}
	out := make([][]byte, 0, len(values))
	for i, value := range values {
		if raw := v.Base64(fmt.Sprintf("%s[%d]", field, i), value); raw != nil {
			out = append(out, raw)
		}
	}
	return out
}

// AlgorandAddress validates a checksummed base32 account address
func (v *Validator) AlgorandAddress(field, value string) bool {
	if _, err := algotypes.DecodeAddress(value); err != nil {
		v.AddError(field, "must be a valid Algorand address")
		return false
	}
	return true
}

// WriteValidationError writes validation errors as a bad_request AppError
func WriteValidationError(w http.ResponseWriter, errs ValidationErrors) {
	WriteError(w, apperrors.BadRequest(errs.Error()))
}

// DecodeJSON decodes a JSON request body, rejecting unknown fields
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes shared by the workflow engine and the HTTP layer.
const (
	CodeValidation            = "VALIDATION_FAILED"
	CodeNotFound              = "NOT_FOUND"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeForbidden             = "FORBIDDEN"
	CodeConflict              = "CONFLICT"
	CodeInternal              = "INTERNAL_ERROR"
	CodeCapabilityUnavailable = "CAPABILITY_UNAVAILABLE"
	CodeCapabilityTimeout     = "CAPABILITY_TIMEOUT"
	CodeInvalidResult         = "INVALID_CAPABILITY_RESULT"
	CodeMissingField          = "MISSING_REQUIRED_FIELD"
	CodeFieldAlreadyWritten   = "FIELD_ALREADY_WRITTEN"
	CodeCanceled              = "CANCELED"
	CodeCheckpointExpired     = "CHECKPOINT_EXPIRED"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewCapabilityUnavailable reports a provider that could not serve an ability call.
func NewCapabilityUnavailable(provider, ability string, err error) error {
	return &DomainError{
		Code:       CodeCapabilityUnavailable,
		Message:    fmt.Sprintf("capability %s/%s unavailable", provider, ability),
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]any{"provider": provider, "ability": ability},
		Err:        err,
	}
}

// NewCapabilityTimeout reports an ability call that exceeded its deadline.
func NewCapabilityTimeout(provider, ability string, err error) error {
	return &DomainError{
		Code:       CodeCapabilityTimeout,
		Message:    fmt.Sprintf("capability %s/%s timed out", provider, ability),
		HTTPStatus: http.StatusGatewayTimeout,
		Details:    map[string]any{"provider": provider, "ability": ability},
		Err:        err,
	}
}

// NewInvalidResult reports a collaborator payload missing a key the stage needs.
func NewInvalidResult(ability, key string) error {
	return &DomainError{
		Code:       CodeInvalidResult,
		Message:    fmt.Sprintf("capability %s returned no usable %q", ability, key),
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]any{"ability": ability, "key": key},
	}
}

// NewCheckpointExpired reports a reply to a run whose checkpoint is gone.
func NewCheckpointExpired(runID string, err error) error {
	return &DomainError{
		Code:       CodeCheckpointExpired,
		Message:    "run checkpoint expired before the reply arrived",
		HTTPStatus: http.StatusGone,
		Details:    map[string]any{"run_id": runID},
		Err:        err,
	}
}

// NewMissingField reports a read of a field that an earlier stage should have written.
func NewMissingField(stage, field string) error {
	return &DomainError{
		Code:       CodeMissingField,
		Message:    fmt.Sprintf("stage %s requires field %s", stage, field),
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"stage": stage, "field": field},
	}
}

// NewFieldAlreadyWritten reports a second write to a write-once field.
func NewFieldAlreadyWritten(field string) error {
	return &DomainError{
		Code:       CodeFieldAlreadyWritten,
		Message:    fmt.Sprintf("field %s already written", field),
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"field": field},
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if errors.Is(err, context.Canceled) {
		return &DomainError{
			Code:       CodeCanceled,
			Message:    "operation canceled",
			HTTPStatus: http.StatusServiceUnavailable,
			Err:        err,
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// CodeOf returns the domain code carried by err, or INTERNAL_ERROR.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return ToDomainError(err).Code
}

// HasCode reports whether err carries the given domain code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.Code == code
}

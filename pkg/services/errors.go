package services

import (
	"errors"
	"fmt"

	"github.com/arbor-coach/arbor/pkg/models"
)

// CodedError pairs a message with a code from the closed error taxonomy.
// The API layer maps codes to HTTP statuses and the worker stamps them onto
// failed jobs, so services return these instead of bare strings.
type CodedError struct {
	Code    models.ErrorCode
	Message string
}

func (e *CodedError) Error() string {
	return e.Message
}

// Sentinel errors for the acceptance gates and the session state machine.
// Wrap with fmt.Errorf("%w: detail", ...) to add context; errors.Is and
// CodeOf still match.
var (
	ErrJobNotFound      = &CodedError{Code: models.ErrCodeJobNotFound, Message: "job not found"}
	ErrSessionNotFound  = &CodedError{Code: models.ErrCodeSessionNotFound, Message: "session not found"}
	ErrSessionNotActive = &CodedError{Code: models.ErrCodeSessionNotActive, Message: "session is not active"}
	ErrSessionAccess    = &CodedError{Code: models.ErrCodeSessionAccess, Message: "session access denied"}
	ErrSessionIdle      = &CodedError{Code: models.ErrCodeSessionIdleTimeout, Message: "session idle timeout exceeded"}
	ErrMaxTurnsReached  = &CodedError{Code: models.ErrCodeMaxTurnsReached, Message: "session turn limit reached"}
	ErrSessionBusy      = &CodedError{Code: models.ErrCodeSessionBusy, Message: "a message is already being processed for this session"}
)

// FieldError names the request field that failed an acceptance gate.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewFieldError builds a FieldError for field.
func NewFieldError(field, message string) error {
	return &FieldError{Field: field, Message: message}
}

// IsFieldError reports whether err chains to a FieldError.
func IsFieldError(err error) bool {
	var fieldErr *FieldError
	return errors.As(err, &fieldErr)
}

// CodeOf extracts the taxonomy code from an error chain. Validation errors
// map to JOB_VALIDATION_ERROR; anything uncoded is internal.
func CodeOf(err error) models.ErrorCode {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	if IsFieldError(err) {
		return models.ErrCodeJobValidation
	}
	return models.ErrCodeInternal
}

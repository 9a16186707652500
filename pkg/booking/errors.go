package booking

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the booking engine.
var (
	ErrInvalidRequest        = errors.New("invalid booking request")
	ErrInvalidRecurrenceRule = errors.New("invalid recurrence rule")
	ErrSlotConflict          = errors.New("slot conflict")
	ErrBookingNotFound       = errors.New("booking not found")
	ErrCourtNotFound         = errors.New("court not found")
	ErrCourtInactive         = errors.New("court inactive")
	ErrForbidden             = errors.New("actor may not modify booking")
	ErrAlreadyCancelled      = errors.New("booking already cancelled or completed")
	ErrBookingNotCompletable = errors.New("booking not completable")
	ErrInvalidBookingID      = errors.New("invalid booking id")
	ErrInvalidCourtID        = errors.New("invalid court id")
	ErrInvalidTimeRange      = errors.New("invalid time range")
	ErrInvalidBookingStatus  = errors.New("invalid booking status")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

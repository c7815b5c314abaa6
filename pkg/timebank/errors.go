package timebank

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the booking and transfer services.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrBookingNotFound     = errors.New("booking not found")
	ErrListingNotFound     = errors.New("listing not found")
	ErrSettlementNotFound  = errors.New("settlement not found")
	ErrUnauthorized        = errors.New("actor is not a participant")
	ErrInvalidState        = errors.New("operation not legal in current status")
	ErrSelfBooking         = errors.New("cannot book own listing")
	ErrInsufficientBalance = errors.New("insufficient time balance")
	ErrDuplicateSettlement = errors.New("booking already settled")
	ErrDuplicateRefund     = errors.New("booking already refunded")

	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidBookingID     = errors.New("invalid booking id")
	ErrInvalidListingID     = errors.New("invalid listing id")
	ErrInvalidAmountMinutes = errors.New("invalid amount minutes")
	ErrInvalidBookingStatus = errors.New("invalid booking status")
	ErrInvalidEntryKind     = errors.New("invalid entry kind")
	ErrInvalidRoleFilter    = errors.New("invalid role filter")
	ErrInvalidMetadataJSON  = errors.New("invalid metadata json")
	ErrInvalidSchedule      = errors.New("invalid schedule")
	ErrInvalidConfig        = errors.New("invalid service config")

	// ErrStorage marks failures of the durable store itself. Unlike the
	// rest of the taxonomy it is not recoverable by the caller.
	ErrStorage = errors.New("storage failure")
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

// WrapStorageError marks an unexpected store failure so it satisfies
// errors.Is(err, ErrStorage) while keeping the driver error in the chain.
func WrapStorageError(subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return WrapError("store", subject, code, fmt.Errorf("%w: %w", ErrStorage, err))
}

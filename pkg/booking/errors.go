package booking

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the booking service.
var (
	ErrInvalidInterval      = errors.New("invalid interval")
	ErrInvalidDate          = errors.New("invalid date")
	ErrInvalidReservationID = errors.New("invalid reservation id")
	ErrInvalidResourceID    = errors.New("invalid resource id")
	ErrInvalidHolderID      = errors.New("invalid holder id")
	ErrInvalidRole          = errors.New("invalid role")
	ErrInvalidAccessLevel   = errors.New("invalid access level")
	ErrInvalidResourceType  = errors.New("invalid resource type")
	ErrInvalidResourceName  = errors.New("invalid resource name")
	ErrInvalidCapacity      = errors.New("invalid capacity")
	ErrInvalidMetadataJSON  = errors.New("invalid metadata json")
	ErrInvalidServiceConfig = errors.New("invalid service config")
	ErrInvalidPolicy        = errors.New("invalid lifecycle policy")
	ErrConflict             = errors.New("reservation conflict")
	ErrUnknownReservation   = errors.New("unknown reservation")
	ErrUnknownResource      = errors.New("unknown resource")
	ErrUnknownHolder        = errors.New("unknown holder")
	ErrAlreadyStarted       = errors.New("reservation already started")
	ErrForbidden            = errors.New("forbidden")
	ErrStaleReservation     = errors.New("stale reservation")
	ErrReservationExists    = errors.New("reservation already exists")
	ErrDeliveryFailure      = errors.New("notification delivery failure")
	ErrRecipientUnreachable = errors.New("recipient has no notification address")
	ErrInvalidToken         = fmt.Errorf("%w: activation token mismatch", ErrForbidden)
)

// Scope names the exclusivity constraint checked during admission.
type Scope string

const (
	ScopeResource Scope = "resource"
	ScopeHolder   Scope = "holder"
)

// ConflictError reports which exclusivity constraint rejected a candidate.
type ConflictError struct {
	Scope         Scope
	ReservationID ReservationID
}

// Error returns the formatted error message.
func (conflictError ConflictError) Error() string {
	switch conflictError.Scope {
	case ScopeResource:
		return "reservation conflict: resource already reserved for an overlapping interval"
	case ScopeHolder:
		return "reservation conflict: holder already has an overlapping reservation"
	default:
		return ErrConflict.Error()
	}
}

// Is matches ErrConflict.
func (conflictError ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ConflictScopeOf extracts the violated scope from err.
func ConflictScopeOf(err error) (Scope, bool) {
	var conflictError ConflictError
	if errors.As(err, &conflictError) {
		return conflictError.Scope, true
	}
	return "", false
}

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

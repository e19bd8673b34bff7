package lottery

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the lottery service.
var (
	ErrDrawPrecondition         = errors.New("draw precondition failed")
	ErrApplicationWindowOpen    = errors.New("application window still open")
	ErrAlreadyDrawn             = errors.New("period already drawn")
	ErrNoPendingApplications    = errors.New("no pending applications")
	ErrNotDrawn                 = errors.New("period not drawn")
	ErrUnknownPeriod            = errors.New("unknown reservation period")
	ErrApplicationsChanged      = errors.New("applications changed during draw")
	ErrDuplicateApplication     = errors.New("duplicate application")
	ErrPeriodClosed             = errors.New("reservation period closed")
	ErrApplicationWindowClosed  = errors.New("application window closed")
	ErrRecentWinRestriction     = errors.New("recent win within restriction period")
	ErrEligibilityDegraded      = errors.New("eligibility check degraded")
	ErrNotification             = errors.New("notification failed")
	ErrPersistence              = errors.New("persistence failure")
	ErrInvalidCapacity          = errors.New("invalid capacity")
	ErrInvalidPeriod            = errors.New("invalid reservation period")
	ErrInvalidEmployeeID        = errors.New("invalid employee id")
	ErrInvalidAccommodationID   = errors.New("invalid accommodation id")
	ErrInvalidPeriodID          = errors.New("invalid reservation period id")
	ErrInvalidApplicationID     = errors.New("invalid application id")
	ErrInvalidActorID           = errors.New("invalid actor id")
	ErrInvalidApplicationStatus = errors.New("invalid application status")
	ErrInvalidRestrictionYears  = errors.New("invalid restriction years")
	ErrInvalidFormData          = errors.New("invalid form data")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
)

// domainErrors are passed through WrapStoreError without being marked as persistence failures.
var domainErrors = []error{
	ErrAlreadyDrawn,
	ErrUnknownPeriod,
	ErrApplicationsChanged,
	ErrDuplicateApplication,
	ErrInvalidEmployeeID,
	ErrInvalidAccommodationID,
	ErrInvalidPeriodID,
	ErrInvalidApplicationID,
	ErrInvalidActorID,
	ErrInvalidApplicationStatus,
	ErrInvalidRestrictionYears,
	ErrInvalidFormData,
	ErrInvalidCapacity,
	ErrInvalidPeriod,
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

// WrapStoreError wraps a storage failure. Driver errors are additionally marked with ErrPersistence.
func WrapStoreError(subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return WrapError(operationStore, subject, code, err)
	}
	return WrapError(operationStore, subject, code, fmt.Errorf("%w: %w", ErrPersistence, err))
}

func isDomainError(err error) bool {
	for _, domainError := range domainErrors {
		if errors.Is(err, domainError) {
			return true
		}
	}
	return false
}

// PreconditionError reports why a draw could not start.
type PreconditionError struct {
	Reason DrawBlockReason
	cause  error
}

// Error returns the formatted error message.
func (preconditionError *PreconditionError) Error() string {
	return fmt.Sprintf("%v: %v", ErrDrawPrecondition, preconditionError.cause)
}

// Unwrap exposes both ErrDrawPrecondition and the reason sentinel to errors.Is.
func (preconditionError *PreconditionError) Unwrap() []error {
	return []error{ErrDrawPrecondition, preconditionError.cause}
}

func newPreconditionError(reason DrawBlockReason) error {
	return &PreconditionError{Reason: reason, cause: reason.sentinel()}
}

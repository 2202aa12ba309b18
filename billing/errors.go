/*
errors.go - Centralized error types for the invoicing engine

ERROR CATEGORIES:
  1. Input-shape errors - missing/forbidden/out-of-range fields, rejected
     before the state machine runs
  2. Business-rule errors - illegal transitions, non-monotonic dates
  3. Persistence errors - storage failures, fatal to the current call

Per-client generation failures are NOT errors: they are collected into
the PeriodReport and never abort a run.
*/
package billing

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the class of input-shape rejections.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when the new operation type is not
	// reachable from the last recorded type.
	ErrInvalidTransition = errors.New("invalid operation transition")

	// ErrNonMonotonicDate is returned when the new operation does not
	// strictly follow the last one in time.
	ErrNonMonotonicDate = errors.New("operation date not after last operation")

	// ErrPersistence wraps storage failures. Not retried by the engine;
	// the caller owns retry policy.
	ErrPersistence = errors.New("persistence failed")

	// ErrInvoiceNotFound is returned when no invoice exists for the
	// requested (client, year, month).
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrDuplicateOperationDate surfaces the storage backstop for the
	// monotonic-date invariant under concurrent appends.
	ErrDuplicateOperationDate = errors.New("operation already exists for this date")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InvalidTransitionError names the violated rule. Messages follow the
// lifecycle wording exposed to API clients.
type InvalidTransitionError struct {
	Last *OperationType // nil when no prior operation exists
	Next OperationType
}

func (e *InvalidTransitionError) Error() string {
	switch e.Next {
	case OpStart:
		return "cannot start service because the last operation is not an end service"
	case OpSuspend:
		return "cannot suspend service because the last operation is not a start or resume service"
	case OpResume:
		return "cannot resume service because the last operation is not a suspend service"
	case OpEnd:
		return "cannot end service because the last operation is not a start or resume service"
	default:
		return fmt.Sprintf("unexpected operation type %q", e.Next)
	}
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// NonMonotonicDateError reports a date that is not strictly after the last
// operation's date.
type NonMonotonicDateError struct {
	LastDate Date
	NewDate  Date
}

func (e *NonMonotonicDateError) Error() string {
	return "the date of the operation must be greater than the date of the last operation"
}

func (e *NonMonotonicDateError) Unwrap() error { return ErrNonMonotonicDate }

// FieldError is one entry of an input-shape rejection.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is the structured field-error list surfaced to callers.
type ValidationErrors []FieldError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e ValidationErrors) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrNonMonotonicDate) ||
		errors.Is(err, ErrDuplicateOperationDate)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound)
}

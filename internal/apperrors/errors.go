// Package apperrors holds the engine's sentinel errors and the retryable or
// fatal classification the NATS consumer acts on.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels. Wrap them with %w and test with errors.Is or the Is* helpers.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrDatabase     = errors.New("database error")
	ErrNATS         = errors.New("nats communication error")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrDuplicate    = errors.New("duplicate resource")
	ErrConflict     = errors.New("resource conflict")
	ErrBadRequest   = errors.New("bad request")
	ErrTimeout      = errors.New("operation timeout")
	ErrRateLimited  = errors.New("rate limited")

	// ErrTriggerEvaluation never fails a message; the trigger simply does not match.
	ErrTriggerEvaluation = errors.New("trigger evaluation failed")
	ErrActionFailed      = errors.New("action failed")
	ErrSchedule          = errors.New("schedule error")
	ErrFunctionInactive  = errors.New("function inactive")
	ErrSignature         = fmt.Errorf("%w: invalid signature", ErrUnauthorized)
)

// RetryableError marks a failure worth redelivering.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError marks a failure that will not go away on redelivery.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// NewRetryable wraps err as "<message>: <err>". args format message.
func NewRetryable(err error, message string, args ...interface{}) error {
	return &RetryableError{Err: annotate(err, message, args)}
}

// NewFatal wraps err as "<message>: <err>". args format message.
func NewFatal(err error, message string, args ...interface{}) error {
	return &FatalError{Err: annotate(err, message, args)}
}

func annotate(err error, message string, args []interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(message, args...), err)
}

func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

func IsNotFoundError(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsValidationError(err error) bool   { return errors.Is(err, ErrValidation) }
func IsDatabaseError(err error) bool     { return errors.Is(err, ErrDatabase) }
func IsNATSError(err error) bool         { return errors.Is(err, ErrNATS) }
func IsUnauthorizedError(err error) bool { return errors.Is(err, ErrUnauthorized) }
func IsDuplicateError(err error) bool    { return errors.Is(err, ErrDuplicate) }
func IsConflictError(err error) bool     { return errors.Is(err, ErrConflict) }
func IsBadRequestError(err error) bool   { return errors.Is(err, ErrBadRequest) }
func IsTimeoutError(err error) bool      { return errors.Is(err, ErrTimeout) }
func IsActionFailedError(err error) bool { return errors.Is(err, ErrActionFailed) }

// ValidationError lists the parameter codes of a run that were missing or
// failed their type or rule checks.
type ValidationError struct {
	FunctionID string
	Missing    []string
	Invalid    []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ","))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(e.Invalid, ","))
	}
	return fmt.Sprintf("validation failed for function %s (%s)", e.FunctionID, strings.Join(parts, "; "))
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// AsValidationError returns the ValidationError in the chain, if any.
func AsValidationError(err error) (*ValidationError, bool) {
	var target *ValidationError
	ok := errors.As(err, &target)
	return target, ok
}

package apperrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("resource not found")

	ErrAccountNotFound = fmt.Errorf("%w: account", ErrNotFound)

	ErrCustomerNotFound = fmt.Errorf("%w: customer", ErrNotFound)

	ErrProfileNotFound = fmt.Errorf("%w: profile", ErrNotFound)

	ErrInvalidArgument = errors.New("invalid argument")

	ErrInvalidAmount = errors.New("invalid amount")

	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrConcurrentModification = errors.New("concurrent modification")

	ErrInvalidState = errors.New("invalid state")

	ErrCheckFailed = errors.New("check failed")

	ErrTimeout = errors.New("timeout")

	ErrValidation = errors.New("validation failed")

	ErrAlreadyExists = errors.New("resource already exists")

	ErrDatabase = errors.New("database error")

	ErrInternalServer = errors.New("internal server error")

	ErrUnauthorized = errors.New("unauthorized")
)

type ValidationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// NewValidationError ties a field-level message to one of the taxonomy
// sentinels, so callers can match both errors.Is(kind) and errors.As(*ValidationError).
func NewValidationError(kind error, field, message string) error {
	return &ValidationError{Field: field, Message: message, Cause: kind}
}

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func WrapDatabaseError(cause error, message string) error {
	return &AppError{
		Code:    "DB_ERROR",
		Message: message,
		Cause:   fmt.Errorf("%w: %w", ErrDatabase, cause),
	}
}

// CheckFailedError reports a failed onboarding branch. Source names the branch.
type CheckFailedError struct {
	Source string
	Reason string
	Cause  error
}

func (e *CheckFailedError) Error() string {
	msg := fmt.Sprintf("check %q failed", e.Source)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CheckFailedError) Is(target error) bool {
	return target == ErrCheckFailed
}

func (e *CheckFailedError) Unwrap() error {
	return e.Cause
}

func NewCheckFailed(source, reason string, cause error) error {
	return &CheckFailedError{Source: source, Reason: reason, Cause: cause}
}

// TimeoutError is returned when an orchestration deadline expires. Completed
// holds whatever branch results were already available.
type TimeoutError struct {
	Deadline  time.Duration
	Completed map[string]any
	Pending   []string
}

func (e *TimeoutError) Error() string {
	done := make([]string, 0, len(e.Completed))
	for k := range e.Completed {
		done = append(done, k)
	}
	sort.Strings(done)
	return fmt.Sprintf("deadline of %s exceeded: completed=[%s] pending=[%s]",
		e.Deadline, strings.Join(done, ","), strings.Join(e.Pending, ","))
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// IsRetryable reports whether err may succeed if the operation is re-run
// against freshly read state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

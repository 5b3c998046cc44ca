package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// Registration decision errors. These are expected outcomes of the decision
// engine, returned to the caller as structured results rather than faults.
// CourseFull never crosses the API boundary: the orchestrator converts it to a
// waitlist placement.
var (
	ErrDuplicateRegistration = New("DUPLICATE_REGISTRATION", http.StatusConflict, "a live registration already exists for this offering")
	ErrPrerequisitesNotMet   = New("PREREQUISITES_NOT_MET", http.StatusUnprocessableEntity, "prerequisites not satisfied")
	ErrScheduleConflict      = New("SCHEDULE_CONFLICT", http.StatusConflict, "offering conflicts with the student's schedule")
	ErrCreditLimitExceeded   = New("CREDIT_LIMIT_EXCEEDED", http.StatusUnprocessableEntity, "credit limit would be exceeded")
	ErrCourseFull            = New("COURSE_FULL", http.StatusConflict, "no seats remaining")
	ErrWaitlistDuplicate     = New("WAITLIST_DUPLICATE", http.StatusConflict, "student already holds a waitlist entry for this offering")
	ErrInvalidTransition     = New("INVALID_TRANSITION", http.StatusConflict, "registration is not in a state that permits this transition")
	ErrInvariantViolation    = New("INVARIANT_VIOLATION", http.StatusInternalServerError, "registration invariant violated")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// HasCode reports whether err carries the given error code. Callers branch on
// decision outcomes with this instead of comparing messages.
func HasCode(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}

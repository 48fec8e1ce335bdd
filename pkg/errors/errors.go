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

// Is reports whether target carries the same code, so clones match their template.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
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
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrNotActive       = New("NOT_ACTIVE", http.StatusPreconditionFailed, "training not active")
	ErrAlreadyEnrolled = New("ALREADY_ENROLLED", http.StatusConflict, "student already enrolled")
	ErrPolicyViolation = New("POLICY_VIOLATION", http.StatusUnprocessableEntity, "booking window policy violated")
	ErrWrongState      = New("WRONG_STATE", http.StatusConflict, "action not allowed in current status")
	ErrAlreadyStarted  = New("ALREADY_STARTED", http.StatusConflict, "training already started")
	ErrNoCapacity      = New("NO_CAPACITY", http.StatusConflict, "no free seat")
	ErrUnknownAction   = New("UNKNOWN_ACTION", http.StatusBadRequest, "unknown action")
)

// Kind groups error codes into the families callers branch on.
type Kind string

// Error kinds.
const (
	KindValidation Kind = "validation"
	KindState      Kind = "state"
	KindCapacity   Kind = "capacity"
	KindPolicy     Kind = "policy"
	KindConflict   Kind = "conflict"
	KindAuth       Kind = "auth"
	KindInternal   Kind = "internal"
)

var kindByCode = map[string]Kind{
	ErrValidation.Code:         KindValidation,
	ErrNotFound.Code:           KindValidation,
	ErrNotActive.Code:          KindValidation,
	ErrUnknownAction.Code:      KindValidation,
	ErrPreconditionFailed.Code: KindValidation,
	ErrWrongState.Code:         KindState,
	ErrAlreadyStarted.Code:     KindState,
	ErrNoCapacity.Code:         KindCapacity,
	ErrPolicyViolation.Code:    KindPolicy,
	ErrAlreadyEnrolled.Code:    KindConflict,
	ErrConflict.Code:           KindConflict,
	ErrUnauthorized.Code:       KindAuth,
	ErrForbidden.Code:          KindAuth,
}

// KindOf returns the family of err, KindInternal for anything untyped.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return KindInternal
	}
	if kind, ok := kindByCode[e.Code]; ok {
		return kind
	}
	return KindInternal
}

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

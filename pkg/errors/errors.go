package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrValidation
	ErrInvalidRole
	ErrPastDate
	ErrSlotConflict
	ErrInvalidTransition
	ErrAlreadyInState
	ErrTransient
	ErrIntegrity
)

var codeNames = map[ErrorCode]string{
	ErrNotFound:          "NOT_FOUND",
	ErrBadRequest:        "BAD_REQUEST",
	ErrUnauthorized:      "UNAUTHORIZED",
	ErrForbidden:         "FORBIDDEN",
	ErrInternal:          "INTERNAL",
	ErrValidation:        "VALIDATION_ERROR",
	ErrInvalidRole:       "INVALID_ROLE",
	ErrPastDate:          "PAST_DATE",
	ErrSlotConflict:      "SLOT_CONFLICT",
	ErrInvalidTransition: "INVALID_TRANSITION",
	ErrAlreadyInState:    "ALREADY_IN_STATE",
	ErrTransient:         "TRANSIENT_FAILURE",
	ErrIntegrity:         "INTEGRITY_FAILURE",
}

// String returns the stable wire name of the code.
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

// HTTPStatus maps an error code onto the HTTP status the API answers with.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrValidation, ErrPastDate:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrInvalidRole:
		return http.StatusUnprocessableEntity
	case ErrSlotConflict, ErrInvalidTransition, ErrAlreadyInState:
		return http.StatusConflict
	case ErrTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the same request unchanged.
func (c ErrorCode) Retryable() bool {
	return c == ErrTransient
}

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func NewValidation(message string, err error) *AppError {
	return &AppError{Code: ErrValidation, Message: message, Err: err}
}

func NewInvalidRole(message string) *AppError {
	return &AppError{Code: ErrInvalidRole, Message: message}
}

func NewPastDate(message string) *AppError {
	return &AppError{Code: ErrPastDate, Message: message}
}

func NewSlotConflict(message string, err error) *AppError {
	return &AppError{Code: ErrSlotConflict, Message: message, Err: err}
}

func NewInvalidTransition(message string) *AppError {
	return &AppError{Code: ErrInvalidTransition, Message: message}
}

func NewAlreadyInState(message string) *AppError {
	return &AppError{Code: ErrAlreadyInState, Message: message}
}

func NewTransient(message string, err error) *AppError {
	return &AppError{Code: ErrTransient, Message: message, Err: err}
}

func NewIntegrity(message string, err error) *AppError {
	return &AppError{Code: ErrIntegrity, Message: message, Err: err}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{Code: ErrForbidden, Message: message}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// IsTimeout reports whether err was caused by a cancelled or expired context.
func IsTimeout(err error) bool {
	return stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled)
}

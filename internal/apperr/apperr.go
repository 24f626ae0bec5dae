// Package apperr holds the error kinds shared by the synchronous and real-time surfaces.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal error")
)

// Error is a classified failure with a caller-safe message.
type Error struct {
	Kind    error
	Message string
	Details any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func WithDetails(kind error, message string, details any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func Unauthenticated(message string) *Error { return New(ErrUnauthenticated, message) }
func Unauthorized(message string) *Error    { return New(ErrUnauthorized, message) }
func InvalidArgument(message string) *Error { return New(ErrInvalidArgument, message) }
func NotFound(message string) *Error        { return New(ErrNotFound, message) }

// Internal wraps a store or transport failure.
func Internal(message string, cause error) *Error {
	return Wrap(ErrInternal, message, cause)
}

// KindOf returns the sentinel kind of err. Unclassified errors are Internal.
func KindOf(err error) error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	for _, kind := range []error{ErrUnauthenticated, ErrUnauthorized, ErrInvalidArgument, ErrNotFound, ErrConflict} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case ErrUnauthenticated:
		return http.StatusUnauthorized
	case ErrUnauthorized:
		return http.StatusForbidden
	case ErrInvalidArgument:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the message and details safe to show to the caller.
// Causes of internal errors are never exposed.
func Public(err error) (string, any) {
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.Kind == ErrInternal {
			return appErr.Message, nil
		}
		return appErr.Message, appErr.Details
	}
	kind := KindOf(err)
	if kind == ErrInternal {
		return "internal error", nil
	}
	return err.Error(), nil
}

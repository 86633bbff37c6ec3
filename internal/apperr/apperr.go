// Package apperr defines the application error taxonomy shared by the REST
// and WebSocket boundaries. Every failure that crosses a service boundary is
// an *Error carrying a Kind discriminant, a stable machine-readable code, and
// a human-readable message. Boundary layers inspect the Kind to pick an HTTP
// status or a WebSocket close code; inner layers never look at errors this way.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for boundary-layer handling.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindAuthorization
	KindValidation
	KindNotFound
	KindConflict
)

// String returns the name of the kind, used in logs.
func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a tagged application error.
type Error struct {
	Kind    Kind
	Code    string // stable machine-readable code, e.g. "TOKEN_EXPIRED"
	Message string // human-readable message
	Details any    // optional structured context for the response body
	Err     error  // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with the given kind, code, and message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Authentication creates a KindAuthentication error (missing/invalid/expired
// credentials).
func Authentication(code, message string) *Error {
	return New(KindAuthentication, code, message)
}

// Authorization creates a KindAuthorization error (authenticated but not
// allowed).
func Authorization(code, message string) *Error {
	return New(KindAuthorization, code, message)
}

// Validation creates a KindValidation error (malformed or out-of-range input).
func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

// NotFound creates a KindNotFound error.
func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

// Conflict creates a KindConflict error (e.g. duplicate unique key).
func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

// Internal wraps an unexpected error so it still carries the taxonomy when it
// reaches a boundary.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: "INTERNAL_ERROR", Message: "internal error", Err: err}
}

// KindOf extracts the Kind from an error chain. Errors outside the taxonomy
// are reported as KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf extracts the machine code from an error chain, or "INTERNAL_ERROR"
// for errors outside the taxonomy.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL_ERROR"
}

// Is reports whether the error chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error to the REST status code for its kind.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

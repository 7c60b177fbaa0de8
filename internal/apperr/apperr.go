package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error. It decides both the HTTP status and
// the machine-readable code in the response body.
type Kind string

const (
	KindValidation       Kind = "validation_error"
	KindAuthentication   Kind = "authentication_failed"
	KindPermission       Kind = "permission_denied"
	KindNotFound         Kind = "not_found"
	KindPayloadTooLarge  Kind = "payload_too_large"
	KindUnsupportedMedia Kind = "unsupported_media_type"
	KindRateLimited      Kind = "rate_limit_exceeded"
	KindInternal         Kind = "internal_error"
)

// Status maps the kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is an application error carrying a response-safe message. The
// wrapped cause is logged but never serialized to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an application error with a response-safe message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an application error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to an application error. The message is what clients
// see; the cause is for logs.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Internal wraps an unexpected error with a generic client message.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "an unexpected error occurred", Err: err}
}

// KindOf returns the kind carried by err, or KindInternal when err is not an
// application error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

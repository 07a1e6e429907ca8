package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds surfaced by the broker and the gateway. Every error returned to
// an HTTP handler should match exactly one of these through errors.Is.
var (
	ErrAuth           = errors.New("authentication failed")
	ErrSessionExpired = errors.New("session expired")
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not found")
	ErrPermission     = errors.New("permission denied")
	ErrValidation     = errors.New("validation failed")
	ErrUpstream       = errors.New("upstream failure")
	ErrRateLimited    = errors.New("rate limited")
)

// Session store errors
var (
	ErrSessionNotFound = errors.New("session not found")
)

// kindError carries a user facing message while matching a kind sentinel.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// New returns an error with the given message that matches kind via errors.Is.
func New(kind error, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// UpstreamError describes a non-2xx response from the platform APIs.
type UpstreamError struct {
	Method     string
	URL        string
	StatusCode int
	Reason     string
	ErrorCode  string
	Detail     string
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	if e.Detail != "" {
		msg += ": " + e.Detail
	} else if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap maps the upstream status code 1:1 onto the error taxonomy.
func (e *UpstreamError) Unwrap() error {
	return KindForStatus(e.StatusCode)
}

// KindForStatus returns the error kind for an upstream HTTP status code.
func KindForStatus(status int) error {
	switch status {
	case http.StatusBadRequest:
		return ErrValidation
	case http.StatusUnauthorized:
		return ErrAuth
	case http.StatusForbidden:
		return ErrPermission
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrUpstream
	}
}

// StatusCode returns the upstream status carried by err, or 0.
func StatusCode(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}

// HTTPStatus maps an error onto the status code returned to the browser.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuth), errors.Is(err, ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

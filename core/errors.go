package core

import (
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ErrorKind classifies expected failures. It maps 1:1 to an HTTP status at the API boundary.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindRateLimit
)

var kindStatus = map[ErrorKind]int{
	KindInternal:       http.StatusInternalServerError,
	KindValidation:     http.StatusBadRequest,
	KindAuthentication: http.StatusUnauthorized,
	KindAuthorization:  http.StatusForbidden,
	KindNotFound:       http.StatusNotFound,
	KindRateLimit:      http.StatusTooManyRequests,
}

func (k ErrorKind) Status() int {
	if code, ok := kindStatus[k]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindRateLimit:
		return "rate_limit"
	default:
		return "internal"
	}
}

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"message"`
}

// Error is an expected failure carrying what the client may be told.
// Err holds the underlying cause, which is never sent to clients.
type Error struct {
	Kind       ErrorKind
	Message    string
	Fields     []FieldError
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func NewValidationError(err error, flds ...FieldError) error {
	msg := "validation failed"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: KindValidation, Message: msg, Fields: flds, Err: err}
}

func NewAuthenticationError(msg string) *Error { return newError(KindAuthentication, msg) }

func NewAuthorizationError(msg string) *Error { return newError(KindAuthorization, msg) }

func NewNotFoundError(msg string) *Error { return newError(KindNotFound, msg) }

func NewRateLimitError(msg string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Message: msg, RetryAfter: retryAfter}
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the ErrorKind of err; unknown errors are internal.
func KindOf(err error) ErrorKind {
	if appErr, ok := AsError(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}

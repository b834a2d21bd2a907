package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a failure independently of its message.
type ErrorCode string

const (
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Login session errors
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// Grant errors. These are reported in the error field of grant responses,
	// so they use the lower-case form OAuth clients expect.
	ErrCodeCodeNotFound     ErrorCode = "code_not_found"
	ErrCodeCodeExpired      ErrorCode = "code_expired"
	ErrCodeCodeUsed         ErrorCode = "code_used"
	ErrCodeInvalidSession   ErrorCode = "invalid_session"
	ErrCodeUsernameMismatch ErrorCode = "username_mismatch"
	ErrCodeInvalidUsername  ErrorCode = "invalid_username"
	ErrCodeTenantNotFound   ErrorCode = "tenant_not_found"
	ErrCodeClientNotFound   ErrorCode = "client_not_found"
)

var httpStatus = map[ErrorCode]int{
	ErrCodeInvalidInput:      http.StatusBadRequest,
	ErrCodeInvalidTransition: http.StatusBadRequest,
	ErrCodeInvalidUsername:   http.StatusBadRequest,
	ErrCodeUsernameMismatch:  http.StatusBadRequest,
	ErrCodeTenantNotFound:    http.StatusBadRequest,

	ErrCodeInvalidSession: http.StatusUnauthorized,

	ErrCodeCodeNotFound: http.StatusForbidden,
	ErrCodeCodeExpired:  http.StatusForbidden,
	ErrCodeCodeUsed:     http.StatusForbidden,

	ErrCodeClientNotFound: http.StatusNotFound,

	ErrCodeConflict: http.StatusConflict,

	ErrCodeRateLimitExceeded: http.StatusTooManyRequests,
}

// Error is a coded error. Details are attached to log lines, never to
// client responses.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail sets key on the error's details and returns the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatusCode is MapErrorCodeToHTTPStatus(e.Code).
func (e *Error) HTTPStatusCode() int {
	return MapErrorCodeToHTTPStatus(e.Code)
}

func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code and message to err. A nil err stays nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode returns the code of the first *Error in err's chain, or
// ErrCodeInternal when there is none.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// MapErrorCodeToHTTPStatus returns the response status for code. Unknown
// codes are internal errors.
func MapErrorCodeToHTTPStatus(code ErrorCode) int {
	if status, ok := httpStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func InvalidInput(field, reason string) *Error {
	return Newf(ErrCodeInvalidInput, "invalid %s: %s", field, reason)
}

func InternalWrap(err error, message string) *Error {
	return Wrap(err, ErrCodeInternal, message)
}

// RateLimitExceeded returns a rate limit error carrying retryAfter, in
// seconds, when set.
func RateLimitExceeded(retryAfter string) *Error {
	err := New(ErrCodeRateLimitExceeded, "rate limit exceeded")
	if retryAfter != "" {
		err.WithDetail("retry_after", retryAfter)
	}
	return err
}

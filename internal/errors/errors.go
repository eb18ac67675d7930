// Package errors defines the service error taxonomy shared by all layers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies an error category on the wire.
type ErrorCode string

const (
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeConflict       ErrorCode = "CONFLICT"
	CodeValidation     ErrorCode = "VALIDATION_ERROR"
	CodeInvalidToken   ErrorCode = "INVALID_TOKEN"
	CodeWrongTokenType ErrorCode = "WRONG_TOKEN_TYPE"
	CodeRateLimited    ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// ServiceError carries an error category, a client-safe message and the HTTP
// status it maps to. The wrapped cause, if any, is for logs only and is never
// written to responses.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	cause      error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.cause }

// WithDetails attaches a key/value pair for diagnostics and returns the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, message string, status int, cause error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, cause: cause}
}

// Unauthorized signals a failed authentication. The message is deliberately
// coarse so callers cannot distinguish which check failed.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return newError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

// Forbidden signals an authorization failure for an authenticated caller.
func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "access denied"
	}
	return newError(CodeForbidden, message, http.StatusForbidden, nil)
}

// NotFound signals an absent resource.
func NotFound(resource string) *ServiceError {
	return newError(CodeNotFound, resource+" not found", http.StatusNotFound, nil)
}

// Conflict signals a state collision, e.g. a double booking.
func Conflict(message string) *ServiceError {
	return newError(CodeConflict, message, http.StatusConflict, nil)
}

// Validation signals a malformed or out-of-range request value.
func Validation(message string) *ServiceError {
	return newError(CodeValidation, message, http.StatusBadRequest, nil)
}

// InvalidToken signals a token that failed signature, expiry or claim checks.
// It maps to 401; the cause carries the parser detail for logging.
func InvalidToken(cause error) *ServiceError {
	return newError(CodeInvalidToken, "invalid or expired token", http.StatusUnauthorized, cause)
}

// WrongTokenType signals a token of the wrong kind, e.g. a refresh token
// presented where an access token is required. Still an authentication
// failure, so 401.
func WrongTokenType() *ServiceError {
	return newError(CodeWrongTokenType, "wrong token type", http.StatusUnauthorized, nil)
}

// RateLimitExceeded signals the caller exceeded the request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	e := newError(CodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests, nil)
	return e.WithDetails("limit", limit).WithDetails("window", window)
}

// Internal signals an unexpected server-side failure.
func Internal(message string, cause error) *ServiceError {
	if message == "" {
		message = "internal server error"
	}
	return newError(CodeInternal, message, http.StatusInternalServerError, cause)
}

// GetServiceError returns the ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if stderrors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	svcErr := GetServiceError(err)
	return svcErr != nil && svcErr.Code == code
}

func IsNotFound(err error) bool  { return IsCode(err, CodeNotFound) }
func IsConflict(err error) bool  { return IsCode(err, CodeConflict) }
func IsForbidden(err error) bool { return IsCode(err, CodeForbidden) }
func IsUnauthorized(err error) bool {
	return IsCode(err, CodeUnauthorized) || IsCode(err, CodeInvalidToken) || IsCode(err, CodeWrongTokenType)
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"

	// Not found errors
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeCallNotFound  ErrorCode = "CALL_NOT_FOUND"
	ErrCodeQueueNotFound ErrorCode = "QUEUE_ITEM_NOT_FOUND"

	// Conflict errors
	ErrCodeConflict ErrorCode = "CONFLICT"

	// Rate limiting errors
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Telephony and upstream model errors
	ErrCodeInboundDisabled ErrorCode = "INBOUND_DISABLED"
	ErrCodeUpstream        ErrorCode = "UPSTREAM_ERROR"
	ErrCodeCircuitOpen     ErrorCode = "CIRCUIT_OPEN"

	// Internal errors
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase       ErrorCode = "DATABASE_ERROR"
	ErrCodeStorage        ErrorCode = "STORAGE_ERROR"
	ErrCodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeTimeout        ErrorCode = "REQUEST_TIMEOUT"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError; the status code defaults to 500.
func New(code ErrorCode, message string) *AppError {
	return NewWithStatus(code, message, http.StatusInternalServerError)
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error; the status code defaults to 500.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return WrapWithStatus(code, message, http.StatusInternalServerError, err)
}

// WrapWithStatus wraps an existing error with an AppError and specific status code
func WrapWithStatus(code ErrorCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// WithDetails adds additional details to an AppError
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func MissingFieldError(field string) *AppError {
	return NewWithStatus(ErrCodeMissingField, fmt.Sprintf("Missing required field: %s", field), http.StatusBadRequest)
}

func NotFoundError(resource string) *AppError {
	return NewWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func CallNotFoundError() *AppError {
	return NewWithStatus(ErrCodeCallNotFound, "Call not found", http.StatusNotFound)
}

func QueueItemNotFoundError() *AppError {
	return NewWithStatus(ErrCodeQueueNotFound, "Queue item not found", http.StatusNotFound)
}

func RateLimitExceededError() *AppError {
	return NewWithStatus(ErrCodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

func InboundDisabledError() *AppError {
	return NewWithStatus(ErrCodeInboundDisabled, "Inbound calls are disabled", http.StatusServiceUnavailable)
}

// UpstreamError wraps a failure from an external provider.
func UpstreamError(provider string, err error) *AppError {
	return WrapWithStatus(ErrCodeUpstream, provider+" request failed", http.StatusBadGateway, err)
}

func CircuitOpenError(dependency string) *AppError {
	return NewWithStatus(ErrCodeCircuitOpen, dependency+" circuit breaker is open", http.StatusServiceUnavailable)
}

func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

func DatabaseError(err error) *AppError {
	return WrapWithStatus(ErrCodeDatabase, "Database error", http.StatusInternalServerError, err)
}

func StorageError(err error) *AppError {
	return WrapWithStatus(ErrCodeStorage, "Storage error", http.StatusInternalServerError, err)
}

func ServiceUnavailableError(message string) *AppError {
	return NewWithStatus(ErrCodeServiceUnavail, message, http.StatusServiceUnavailable)
}

func TimeoutError() *AppError {
	return NewWithStatus(ErrCodeTimeout, "Request timeout", http.StatusGatewayTimeout)
}

// IsAppError reports whether err (or anything it wraps) is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as InternalError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError(err.Error())
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// APIError is the typed error returned by the collector API and its client.
type APIError struct {
	Code    string
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Cause }

// Is matches another *APIError with the same code.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// HTTPStatus maps the error code to a response status.
func (e *APIError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeInvalidReport:
		return http.StatusBadRequest
	case ErrCodeReportNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

const (
	ErrCodeInvalidReport     = "INVALID_REPORT"
	ErrCodeReportNotFound    = "REPORT_NOT_FOUND"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeStoreUnavailable  = "STORE_UNAVAILABLE"
	ErrCodeInternal          = "INTERNAL"
)

// Sentinels for errors.Is checks on code only.
var (
	ErrNotFound    = &APIError{Code: ErrCodeReportNotFound}
	ErrInvalid     = &APIError{Code: ErrCodeInvalidReport}
	ErrRateLimited = &APIError{Code: ErrCodeRateLimitExceeded}
	ErrUnavailable = &APIError{Code: ErrCodeStoreUnavailable}
)

func ErrInvalidReport(msg string, cause error) *APIError {
	return &APIError{
		Code:    ErrCodeInvalidReport,
		Message: msg,
		Cause:   cause,
	}
}

func ErrReportNotFound(id string) *APIError {
	return &APIError{
		Code:    ErrCodeReportNotFound,
		Message: fmt.Sprintf("report %s not found", id),
	}
}

func ErrRateLimitExceeded() *APIError {
	return &APIError{
		Code:    ErrCodeRateLimitExceeded,
		Message: "rate limit exceeded",
	}
}

func ErrStoreUnavailable(cause error) *APIError {
	return &APIError{
		Code:    ErrCodeStoreUnavailable,
		Message: "store temporarily unavailable",
		Cause:   cause,
	}
}

// FromStatus rebuilds an APIError from a collector response.
func FromStatus(status int, msg string) *APIError {
	code := ErrCodeInternal
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		code = ErrCodeInvalidReport
	case http.StatusNotFound:
		code = ErrCodeReportNotFound
	case http.StatusTooManyRequests:
		code = ErrCodeRateLimitExceeded
	case http.StatusServiceUnavailable:
		code = ErrCodeStoreUnavailable
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Code: code, Message: msg}
}

func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

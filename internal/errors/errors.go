// internal/errors/errors.go - Error taxonomy of the scraping engine
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorCode categorizes failures so the dispatcher can decide what to do with them
type ErrorCode string

const (
	CodeAuth              ErrorCode = "AUTH_FAILED"
	CodeSessionExpired    ErrorCode = "SESSION_EXPIRED"
	CodeBlocked           ErrorCode = "DETECTION_BLOCKED"
	CodeFieldMissing      ErrorCode = "EXTRACTION_FIELD_MISSING"
	CodeNavigationTimeout ErrorCode = "NAVIGATION_TIMEOUT"
	CodeNetwork           ErrorCode = "NETWORK_ERROR"
	CodeDedupService      ErrorCode = "DEDUP_SERVICE_ERROR"
	CodeQueueInit         ErrorCode = "QUEUE_INIT_FAILED"
	CodeBudgetExhausted   ErrorCode = "BUDGET_EXHAUSTED"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// ErrBudgetExhausted is a normal stop condition, not a failure
var ErrBudgetExhausted = &StructuredError{Code: CodeBudgetExhausted, Message: "budget exhausted"}

// StructuredError carries a code, retryability and optional context
type StructuredError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Fatal     bool                   `json:"fatal"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// Is matches on error code so errors.Is(err, ErrBudgetExhausted) works on wrapped values
func (e *StructuredError) Is(target error) bool {
	if se, ok := target.(*StructuredError); ok {
		return e.Code == se.Code
	}
	return false
}

// WithContext adds a context entry and returns the same error
func (e *StructuredError) WithContext(key string, value interface{}) *StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func newError(code ErrorCode, retryable, fatal bool, msg string, cause error) *StructuredError {
	return &StructuredError{
		Code:      code,
		Message:   msg,
		Retryable: retryable,
		Fatal:     fatal,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// NewAuthError reports that no session could be established. Fatal to the run.
func NewAuthError(msg string, cause error) *StructuredError {
	return newError(CodeAuth, false, true, msg, cause)
}

// NewSessionExpired reports a page that fell back to the login wall mid-run.
// The dispatcher logs in again and repeats the request instead of retrying it.
func NewSessionExpired(url, reason string) *StructuredError {
	return newError(CodeSessionExpired, false, false, "session expired on "+url, nil).
		WithContext("url", url).
		WithContext("reason", reason)
}

// NewBlockedError reports a block or challenge page that survived recovery
func NewBlockedError(msg string) *StructuredError {
	return newError(CodeBlocked, true, false, msg, nil)
}

// NewFieldMissing reports an expected field that was not found on a page
func NewFieldMissing(field, url string) *StructuredError {
	return newError(CodeFieldMissing, false, false, "missing field "+field, nil).
		WithContext("field", field).
		WithContext("url", url)
}

// NewNavigationTimeout reports a navigation or handler timeout
func NewNavigationTimeout(url string, cause error) *StructuredError {
	return newError(CodeNavigationTimeout, true, false, "navigation timed out: "+url, cause)
}

// NewNetworkError reports a transport level failure
func NewNetworkError(msg string, cause error) *StructuredError {
	return newError(CodeNetwork, true, false, msg, cause)
}

// NewHTTPStatusError reports an unexpected status from a plain HTTP fetch.
// Throttling and server errors are retryable, client errors are not.
func NewHTTPStatusError(url string, status int) *StructuredError {
	retryable := status == 429 || status >= 500
	return newError(CodeNetwork, retryable, false, fmt.Sprintf("HTTP %d for %s", status, url), nil).
		WithContext("status", status)
}

// NewDedupServiceError reports a failed existence check. Never fatal.
func NewDedupServiceError(msg string, cause error) *StructuredError {
	return newError(CodeDedupService, false, false, msg, cause)
}

// NewQueueInitError reports that a run could not be seeded. Fatal to the run.
func NewQueueInitError(msg string) *StructuredError {
	return newError(CodeQueueInit, false, true, msg, nil)
}

// Code returns the code of the first StructuredError in the chain, classifying
// plain timeouts and network errors on the way.
func Code(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se.Code
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return CodeNavigationTimeout
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeNavigationTimeout
		}
		return CodeNetwork
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "deadline exceeded"} {
		if strings.Contains(msg, pattern) {
			return CodeNavigationTimeout
		}
	}
	for _, pattern := range []string{"connection refused", "connection reset", "no such host", "net::err_"} {
		if strings.Contains(msg, pattern) {
			return CodeNetwork
		}
	}
	return CodeInternal
}

// IsFatal reports whether err must abort the whole run
func IsFatal(err error) bool {
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se.Fatal
	}
	return false
}

// IsRetryable reports whether the dispatcher may re-queue the request. Unknown
// handler errors are retried too; only known non-retryable codes are not.
func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se.Retryable || se.Code == CodeInternal
	}
	return true
}

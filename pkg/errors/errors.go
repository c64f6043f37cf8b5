// Package errors provides the structured error system for chdfs-go with
// error codes, categories, and operation context.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a class of adapter failure.
type ErrorCode string

const (
	// Validation errors
	ErrCodeInvalidMountAddr ErrorCode = "INVALID_MOUNT_ADDR"

	// Configuration errors
	ErrCodeConfigInvalidNumber ErrorCode = "CONFIG_INVALID_NUMBER"
	ErrCodeConfigMissing       ErrorCode = "CONFIG_MISSING"
	ErrCodeConfigNotAbsolute   ErrorCode = "CONFIG_NOT_ABSOLUTE"

	// Cache directory errors
	ErrCodeCacheDirCreate       ErrorCode = "CACHE_DIR_CREATE"
	ErrCodeCacheDirNotDirectory ErrorCode = "CACHE_DIR_NOT_DIRECTORY"
	ErrCodeCacheDirNotReadable  ErrorCode = "CACHE_DIR_NOT_READABLE"
	ErrCodeCacheDirNotWritable  ErrorCode = "CACHE_DIR_NOT_WRITABLE"

	// Acquisition / lifecycle errors
	ErrCodeInitFailed     ErrorCode = "INIT_FAILED"
	ErrCodeNotInitialized ErrorCode = "NOT_INITIALIZED"

	// Transient transport errors, retryable during acquisition
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrCodeNetworkError     ErrorCode = "NETWORK_ERROR"
	ErrCodeOperationTimeout ErrorCode = "OPERATION_TIMEOUT"

	// Backend errors
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED"
	ErrCodeUnexpected  ErrorCode = "UNEXPECTED"
)

// ErrorCategory groups error codes for reporting.
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryCacheDir      ErrorCategory = "cachedir"
	CategoryLifecycle     ErrorCategory = "lifecycle"
	CategoryConnection    ErrorCategory = "connection"
	CategoryBackend       ErrorCategory = "backend"
)

// Error is the structured error type used across the adapter.
type Error struct {
	Code      ErrorCode     `json:"code"`
	Category  ErrorCategory `json:"category"`
	Message   string        `json:"message"`
	Op        string        `json:"op,omitempty"`
	Path      string        `json:"path,omitempty"`
	Retryable bool          `json:"retryable"`
	Timestamp time.Time     `json:"timestamp"`
	Cause     error         `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		fmt.Fprintf(&b, "[%s] ", e.Op)
	}
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Path != "" {
		fmt.Fprintf(&b, " (path: %s)", e.Path)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %s", e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so callers can compare against sentinel values.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a structured error with category and retryability derived
// from the code.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Retryable: IsRetryableByDefault(code),
		Timestamp: time.Now(),
	}
}

// Newf creates a structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithOp sets the operation name for an error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithPath sets the offending path for an error.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithCause sets the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_MOUNT"):
		return CategoryValidation
	case strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "CACHE_DIR_"):
		return CategoryCacheDir
	case strings.HasPrefix(codeStr, "INIT_") || codeStr == "NOT_INITIALIZED":
		return CategoryLifecycle
	case strings.HasPrefix(codeStr, "CONNECTION_") || strings.HasPrefix(codeStr, "NETWORK_") ||
		strings.HasPrefix(codeStr, "OPERATION_"):
		return CategoryConnection
	default:
		return CategoryBackend
	}
}

// IsRetryableByDefault determines if an error code is transient. Only
// transient transport failures are retried, and only during backend
// acquisition.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionFailed, ErrCodeNetworkError, ErrCodeOperationTimeout:
		return true
	}
	return false
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

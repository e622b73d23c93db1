package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorType represents the type of error
type ErrorType int

const (
	// ConfigurationError represents errors related to configuration
	ConfigurationError ErrorType = iota
	// NetworkError represents errors related to network operations
	NetworkError
	// StorageError represents errors related to the local mirror
	StorageError
	// ValidationError represents validation errors
	ValidationError
	// CrawlerError represents errors specific to the crawler
	CrawlerError
	// CanceledError represents work that was stopped by a cancellation signal
	CanceledError
)

// String returns the string representation of an ErrorType
func (e ErrorType) String() string {
	switch e {
	case ConfigurationError:
		return "ConfigurationError"
	case NetworkError:
		return "NetworkError"
	case StorageError:
		return "StorageError"
	case ValidationError:
		return "ValidationError"
	case CrawlerError:
		return "CrawlerError"
	case CanceledError:
		return "CanceledError"
	default:
		return "UnknownError"
	}
}

// MirrorError represents a custom error with additional context
type MirrorError struct {
	Type     ErrorType
	Message  string
	Err      error
	Context  map[string]interface{}
	Stack    string
	File     string
	Line     int
	Function string
}

// Error implements the error interface
func (e *MirrorError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", e.Type.String()))
	parts = append(parts, e.Message)

	if e.Err != nil {
		parts = append(parts, fmt.Sprintf("caused by: %v", e.Err))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error
func (e *MirrorError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a MirrorError of the same type
func (e *MirrorError) Is(target error) bool {
	if other, ok := target.(*MirrorError); ok {
		return e.Type == other.Type
	}
	return false
}

// New creates a new MirrorError with the specified type and message
func New(errorType ErrorType, message string) *MirrorError {
	err := &MirrorError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]interface{}),
	}
	err.captureStack()
	return err
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errorType ErrorType, message string) *MirrorError {
	mirrorErr := &MirrorError{
		Type:    errorType,
		Message: message,
		Err:     err,
		Context: make(map[string]interface{}),
	}
	mirrorErr.captureStack()
	return mirrorErr
}

// WithContext adds context to an error
func (e *MirrorError) WithContext(key string, value interface{}) *MirrorError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// captureStack captures the stack trace for the error
func (e *MirrorError) captureStack() {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stackBuilder strings.Builder
	for {
		frame, more := frames.Next()
		if e.Function == "" {
			e.Function = frame.Function
		}
		if e.File == "" {
			e.File = frame.File
			e.Line = frame.Line
		}
		stackBuilder.WriteString(fmt.Sprintf("%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}
	e.Stack = stackBuilder.String()
}

// GetType returns the type of the error, or -1 when err is not a MirrorError
func GetType(err error) ErrorType {
	var mirrorErr *MirrorError
	if stderrors.As(err, &mirrorErr) {
		return mirrorErr.Type
	}
	return -1
}

// IsType checks if the error chain contains a MirrorError of the specified type
func IsType(err error, errorType ErrorType) bool {
	var mirrorErr *MirrorError
	if stderrors.As(err, &mirrorErr) {
		return mirrorErr.Type == errorType
	}
	return false
}

// IsConfigurationError checks if the error is a configuration error
func IsConfigurationError(err error) bool {
	return IsType(err, ConfigurationError)
}

// IsNetworkError checks if the error is a network error
func IsNetworkError(err error) bool {
	return IsType(err, NetworkError)
}

// IsStorageError checks if the error is a storage error
func IsStorageError(err error) bool {
	return IsType(err, StorageError)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return IsType(err, ValidationError)
}

// IsCanceled checks if the error is a cancellation
func IsCanceled(err error) bool {
	return IsType(err, CanceledError)
}

// IsFatal reports whether err is a setup defect that should end the run
func IsFatal(err error) bool {
	return IsConfigurationError(err) || IsValidationError(err)
}

// HandleError attaches a recovery hint based on the error type
func HandleError(err error) error {
	if err == nil {
		return nil
	}

	var mirrorErr *MirrorError
	if !stderrors.As(err, &mirrorErr) {
		return err
	}

	switch mirrorErr.Type {
	case ConfigurationError:
		return mirrorErr.WithContext("recovery", "Check configuration files and environment variables")
	case ValidationError:
		return mirrorErr.WithContext("recovery", "Check seeds, allowed domains and output folder")
	case NetworkError:
		return mirrorErr.WithContext("recovery", "Check network connectivity and server status")
	case StorageError:
		return mirrorErr.WithContext("recovery", "Check disk space and file permissions")
	default:
		return err
	}
}

// RetryableError represents a transient failure that can be retried
type RetryableError struct {
	*MirrorError
	MaxRetries int
	RetryCount int
}

// WrapRetryableError wraps an existing error as a retryable error
func WrapRetryableError(err error, errorType ErrorType, message string, maxRetries int) *RetryableError {
	return &RetryableError{
		MirrorError: Wrap(err, errorType, message),
		MaxRetries:  maxRetries,
		RetryCount:  0,
	}
}

// Unwrap exposes the typed error so IsType sees through the retry wrapper
func (e *RetryableError) Unwrap() error {
	return e.MirrorError
}

// CanRetry checks if the error can be retried
func (e *RetryableError) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// IncrementRetry increments the retry count
func (e *RetryableError) IncrementRetry() {
	e.RetryCount++
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	_, ok := AsRetryable(err)
	return ok
}

// AsRetryable returns the RetryableError in err's chain, if any
func AsRetryable(err error) (*RetryableError, bool) {
	var retryErr *RetryableError
	if stderrors.As(err, &retryErr) {
		return retryErr, true
	}
	return nil, false
}

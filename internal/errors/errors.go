package errors

import (
	stderrors "errors"
	"fmt"
)

// NexusError is the structured error type for nexus.
// It carries enough context for logging, CLI output and MCP error mapping.
type NexusError struct {
	// Code is the unique error code (e.g., "ERR_506_SHAPE").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *NexusError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *NexusError) Unwrap() error {
	return e.Cause
}

// Is matches another NexusError by code.
func (e *NexusError) Is(target error) bool {
	if t, ok := target.(*NexusError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *NexusError) WithDetail(key, value string) *NexusError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets an actionable suggestion.
func (e *NexusError) WithSuggestion(suggestion string) *NexusError {
	e.Suggestion = suggestion
	return e
}

// New creates a NexusError. Category, severity and the retryable flag are
// derived from the code.
func New(code string, message string, cause error) *NexusError {
	return &NexusError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code string, format string, args ...any) *NexusError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a NexusError from an existing error, reusing its message.
func Wrap(code string, err error) *NexusError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *NexusError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *NexusError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *NexusError {
	return New(ErrCodeInternal, message, cause)
}

// As finds the first NexusError in err's chain.
func As(err error) (*NexusError, bool) {
	var ne *NexusError
	if stderrors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}

// IsRetryable reports whether any NexusError in the chain is retryable.
func IsRetryable(err error) bool {
	if ne, ok := As(err); ok {
		return ne.Retryable
	}
	return false
}

// IsFatal reports whether the error has fatal severity.
func IsFatal(err error) bool {
	if ne, ok := As(err); ok {
		return ne.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" if err is not a NexusError.
func GetCode(err error) string {
	if ne, ok := As(err); ok {
		return ne.Code
	}
	return ""
}

// Is and Unwrap re-export the standard helpers so callers importing this
// package under the name "errors" keep them.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// Unwrap returns the result of calling Unwrap on err.
func Unwrap(err error) error { return stderrors.Unwrap(err) }

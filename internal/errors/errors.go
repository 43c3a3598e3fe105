package errors

import (
	stderrors "errors"
	"fmt"
)

// KBError is the structured error type returned by the index engines.
// It carries enough context for logging, CLI output and MCP error mapping.
type KBError struct {
	// Code is the unique error code (e.g., "ERR_602_VECTOR_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *KBError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *KBError) Unwrap() error {
	return e.Cause
}

// Is matches another *KBError by code, so errors.Is(err, ErrVectorNotFound) works
// regardless of message or cause.
func (e *KBError) Is(target error) bool {
	if t, ok := target.(*KBError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *KBError) WithDetail(key, value string) *KBError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *KBError) WithSuggestion(suggestion string) *KBError {
	e.Suggestion = suggestion
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrDocumentNotFound  = New(ErrCodeDocumentNotFound, "document not found", nil)
	ErrVectorNotFound    = New(ErrCodeVectorNotFound, "vector not found", nil)
	ErrDimensionMismatch = New(ErrCodeDimensionMismatch, "vector dimension mismatch", nil)
	ErrIngestRolledBack  = New(ErrCodeIngestRolledBack, "ingestion rolled back", nil)
	ErrClosed            = New(ErrCodeClosed, "database is closed", nil)
	ErrDatabaseLocked    = New(ErrCodeDatabaseLocked, "database is locked", nil)
)

// New creates a new KBError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *KBError {
	return &KBError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a KBError from an existing error.
func Wrap(code string, err error) *KBError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *KBError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// NetworkError creates a network-related error.
// Network errors are retryable.
func NetworkError(message string, cause error) *KBError {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *KBError {
	return New(ErrCodeInvalidInput, message, cause)
}

// DimensionMismatch reports a vector whose length differs from the database's.
func DimensionMismatch(expected, got int) *KBError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("vector dimension mismatch: expected %d, got %d", expected, got), nil).
		WithDetail("expected", fmt.Sprint(expected)).
		WithDetail("got", fmt.Sprint(got))
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *KBError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable reports whether any KBError in err's chain is retryable.
func IsRetryable(err error) bool {
	var ke *KBError
	if stderrors.As(err, &ke) {
		return ke.Retryable
	}
	return false
}

// IsNotFound reports whether err is a document or vector lookup miss.
func IsNotFound(err error) bool {
	return GetCategory(err) == CategoryNotFound
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ke *KBError
	if stderrors.As(err, &ke) {
		return ke.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code of the outermost KBError in err's chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var ke *KBError
	if stderrors.As(err, &ke) {
		return ke.Code
	}
	return ""
}

// GetCategory extracts the category of the outermost KBError in err's chain.
func GetCategory(err error) Category {
	var ke *KBError
	if stderrors.As(err, &ke) {
		return ke.Category
	}
	return ""
}

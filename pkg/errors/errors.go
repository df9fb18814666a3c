package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a unique error code for categorizing errors
type ErrorCode string

const (
	// Connection errors (1xxx)
	ErrCodeConnectionFailed     ErrorCode = "RKE1001"
	ErrCodeAuthenticationFailed ErrorCode = "RKE1002"
	ErrCodeNotConnected         ErrorCode = "RKE1003"

	// Configuration errors (2xxx)
	ErrCodeConfigNotFound ErrorCode = "RKE2001"
	ErrCodeConfigInvalid  ErrorCode = "RKE2002"
	ErrCodeConfigMissing  ErrorCode = "RKE2003"
	ErrCodeSecret         ErrorCode = "RKE2004"

	// SQL errors (4xxx)
	ErrCodeQueryFailed    ErrorCode = "RKE4001"
	ErrCodeSQLTransaction ErrorCode = "RKE4004"
	ErrCodeTableNotFound  ErrorCode = "RKE4005"
	ErrCodeDDLExecution   ErrorCode = "RKE4006"

	// Object storage errors (5xxx)
	ErrCodeStorageTransfer ErrorCode = "RKE5001"
	ErrCodeManifestInvalid ErrorCode = "RKE5003"

	// Validation errors (6xxx)
	ErrCodeInvalidSortKey ErrorCode = "RKE6001"
	ErrCodeInvalidInput   ErrorCode = "RKE6002"
	ErrCodeUserInput      ErrorCode = "RKE6004"

	// Integrity errors (8xxx)
	ErrCodeRowCountMismatch ErrorCode = "RKE8006"

	// System errors (9xxx)
	ErrCodeInternal ErrorCode = "RKE9001"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "CRITICAL" // System failure, requires immediate attention
	SeverityError    ErrorSeverity = "ERROR"    // Operation failed
	SeverityWarning  ErrorSeverity = "WARNING"  // Operation succeeded with issues
	SeverityInfo     ErrorSeverity = "INFO"     // Informational, not an error
)

// AppError represents a structured application error with context
type AppError struct {
	Code        ErrorCode
	Message     string
	Severity    ErrorSeverity
	Context     map[string]interface{}
	Cause       error
	Stack       string
	Timestamp   time.Time
	Suggestions []string
}

// Error implements the error interface
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\nCaused by: %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  %d. %s", i+1, suggestion))
		}
	}

	return b.String()
}

// Unwrap returns the cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError by code
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  SeverityError,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
		Timestamp: time.Now(),
	}
}

// Wrap wraps an existing error with AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	appErr := New(code, message)
	appErr.Cause = err

	// Inherit context from a wrapped AppError
	var ae *AppError
	if errors.As(err, &ae) {
		for k, v := range ae.Context {
			appErr.Context[k] = v
		}
	}

	return appErr
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity sets the error severity
func (e *AppError) WithSeverity(severity ErrorSeverity) *AppError {
	e.Severity = severity
	return e
}

// WithSuggestions adds recovery suggestions
func (e *AppError) WithSuggestions(suggestions ...string) *AppError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			b.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	return b.String()
}

// Common error constructors

// ConfigError reports a missing or invalid configuration value
func ConfigError(message string, field string) *AppError {
	return New(ErrCodeConfigInvalid, message).
		WithContext("field", field).
		WithSuggestions(
			fmt.Sprintf("Check the '%s' configuration value", field),
			"Run 'redkey config init' to write a configuration template",
		)
}

// ConfigMissingError reports a required key that is absent from the configuration
func ConfigMissingError(field string) *AppError {
	return New(ErrCodeConfigMissing, fmt.Sprintf("Missing required configuration key %q", field)).
		WithContext("field", field).
		WithSuggestions(fmt.Sprintf("Add '%s' to the configuration file", field))
}

// ConnectionError creates a connection-related error
func ConnectionError(message string, cause error) *AppError {
	return Wrap(cause, ErrCodeConnectionFailed, message).
		WithSeverity(SeverityCritical).
		WithSuggestions(
			"Check your network connection",
			"Verify the cluster endpoint and port are reachable",
			"Check the cluster security group",
		)
}

// TableNotFoundError is raised when the catalog reports no columns for a table
func TableNotFoundError(schema, table string) *AppError {
	return New(ErrCodeTableNotFound, fmt.Sprintf("Table %s.%s not found in pg_table_def", schema, table)).
		WithContext("schema", schema).
		WithContext("table", table).
		WithSuggestions(
			"Check the schema and table name for typos",
			"Ensure the connecting user can see the schema",
		)
}

// DDLExecutionError wraps a warehouse failure with the statement that caused it
func DDLExecutionError(statement string, cause error) *AppError {
	err := Wrap(cause, ErrCodeDDLExecution, "Warehouse rejected statement").
		WithContext("statement", statement)

	msg := strings.ToLower(cause.Error())
	switch {
	case strings.Contains(msg, "permission denied"):
		_ = err.WithSuggestions("Verify the connecting user owns the table or has the required privileges")
	case strings.Contains(msg, "does not exist"):
		_ = err.WithSuggestions(
			"Check that the distribution key names an existing column",
			"Verify the target schema exists on the cluster",
		)
	case strings.Contains(msg, "syntax error"):
		_ = err.WithSuggestions("Review the generated statement shown in the error context")
	}

	return err
}

// QueryError wraps a failed catalog query
func QueryError(query string, cause error) *AppError {
	return Wrap(cause, ErrCodeQueryFailed, "Catalog query failed").
		WithContext("query", query)
}

// InvalidSortKeyError reports two columns claiming the same sort key position
func InvalidSortKeyError(position int, first, second string) *AppError {
	return New(ErrCodeInvalidSortKey, fmt.Sprintf("Columns %q and %q share sort key position %d", first, second, position)).
		WithContext("position", position).
		WithSuggestions("Inspect the sortkey column of pg_table_def for this table")
}

// RowCountMismatchError is raised when a copied table does not hold the rows of its source
func RowCountMismatchError(source, target string, want, got int64) *AppError {
	return New(ErrCodeRowCountMismatch, fmt.Sprintf("Row count mismatch: %s has %d rows, %s has %d", source, want, target, got)).
		WithSeverity(SeverityCritical).
		WithContext("source", source).
		WithContext("target", target).
		WithContext("source_rows", want).
		WithContext("target_rows", got).
		WithSuggestions(
			"The original table was left in place",
			fmt.Sprintf("Inspect %s before retrying", target),
		)
}

// StorageTransferError wraps a failed unload, load or purge
func StorageTransferError(operation, uri string, cause error) *AppError {
	return Wrap(cause, ErrCodeStorageTransfer, fmt.Sprintf("Storage %s failed", operation)).
		WithContext("operation", operation).
		WithContext("uri", uri).
		WithSuggestions(
			"Verify the S3 credentials in the configuration",
			"Check that the bucket exists and the cluster can reach it",
		)
}

// ValidationError creates a validation error
func ValidationError(field string, value interface{}, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Validation failed for %s: %s", field, reason)).
		WithContext("field", field).
		WithContext("value", value)
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err, or any error it wraps, carries code
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}
